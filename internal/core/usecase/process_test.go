package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kirillkom/docimport/internal/core/domain"
)

func newProcessFixture(t *testing.T, fx fixture) (*documentRepoFake, *memStore, *ProcessDocumentUseCase) {
	t.Helper()
	vendors, materials := acmeRegistry()
	repo := &documentRepoFake{doc: &domain.Document{ID: "doc-1", Filename: "po-24.pdf", MimeType: domain.MimePDF, StoragePath: "doc-1_po-24.pdf"}}
	storage := newObjectStorageFake()
	storage.objects["doc-1_po-24.pdf"] = []byte("%PDF PO-24")
	history := newMemStore(vendors, materials)
	classifier := newTestClassifier(t, newExtractorFake(map[string]fixture{"po-24.pdf": fx}))
	resolver := NewResolveUseCase(&vendorRegistryFake{vendors: vendors}, &materialRegistryFake{materials: materials}, nil, nil)
	return repo, history, NewProcessDocumentUseCase(repo, storage, classifier, resolver, history, nil)
}

func TestProcessByIDSuccess(t *testing.T) {
	repo, history, uc := newProcessFixture(t, fixture{docType: "purchase_order", confidence: 0.9, fields: po24Fields})

	if err := uc.ProcessByID(context.Background(), "doc-1"); err != nil {
		t.Fatalf("ProcessByID() error = %v", err)
	}
	if len(repo.statusCalls) != 2 {
		t.Fatalf("expected 2 status calls, got %d", len(repo.statusCalls))
	}
	if repo.statusCalls[0].status != domain.StatusProcessing || repo.statusCalls[1].status != domain.StatusClassified {
		t.Fatalf("unexpected status sequence: %+v", repo.statusCalls)
	}
	if repo.extractedID != "doc-1" || repo.extraction.DocumentType != domain.DocumentPurchaseOrder {
		t.Fatalf("expected extraction saved for doc-1, got %+v", repo.extraction)
	}
	if repo.extraction.VendorMatch == nil || repo.extraction.VendorMatch.EntityID != acmeVendorID {
		t.Fatalf("expected resolved vendor, got %+v", repo.extraction.VendorMatch)
	}
	if len(history.state.history) != 1 || history.state.history[0].Status != domain.ImportPending {
		t.Fatalf("expected pending history entry, got %+v", history.state.history)
	}
	if history.rows() != 2 {
		t.Fatalf("processing must not write business rows")
	}
}

func TestProcessByIDUnknownSkipsPendingHistory(t *testing.T) {
	repo, history, uc := newProcessFixture(t, fixture{docType: "restaurant_menu", confidence: 0.5})

	if err := uc.ProcessByID(context.Background(), "doc-1"); err != nil {
		t.Fatalf("ProcessByID() error = %v", err)
	}
	if !repo.extraction.IsUnknown() {
		t.Fatalf("expected unknown extraction saved")
	}
	if len(history.state.history) != 0 {
		t.Fatalf("unknown documents are not pending imports")
	}
}

func TestProcessByIDMarksFailedOnExtractError(t *testing.T) {
	repo, _, uc := newProcessFixture(t, fixture{err: errors.New("model down")})

	err := uc.ProcessByID(context.Background(), "doc-1")
	if !errors.Is(err, domain.ErrExtractionFailed) {
		t.Fatalf("expected ErrExtractionFailed, got %v", err)
	}
	if len(repo.statusCalls) != 2 || repo.statusCalls[1].status != domain.StatusFailed {
		t.Fatalf("expected processing + failed status updates, got %+v", repo.statusCalls)
	}
}

func TestProcessByIDTemporaryFailureReturnsToUploaded(t *testing.T) {
	repo, _, uc := newProcessFixture(t, fixture{err: domain.WrapError(domain.ErrTemporary, "ollama generate", errors.New("503"))})

	err := uc.ProcessByID(context.Background(), "doc-1")
	if !errors.Is(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error surfaced for redelivery, got %v", err)
	}
	last := repo.statusCalls[len(repo.statusCalls)-1]
	if last.status != domain.StatusUploaded || !strings.HasPrefix(last.errMsg, "retry pending") {
		t.Fatalf("expected document back in uploaded, got %+v", last)
	}
}

func TestProcessByIDReportsFailStatusError(t *testing.T) {
	repo, _, uc := newProcessFixture(t, fixture{err: errors.New("model down")})
	repo.failStatus = errors.New("db down")

	err := uc.ProcessByID(context.Background(), "doc-1")
	if err == nil || !errors.Is(err, domain.ErrExtractionFailed) {
		t.Fatalf("expected original error kept, got %v", err)
	}
}

func TestProcessByIDSaveExtractionError(t *testing.T) {
	repo, _, uc := newProcessFixture(t, fixture{docType: "purchase_order", confidence: 0.9, fields: po24Fields})
	repo.saveErr = errors.New("disk full")

	if err := uc.ProcessByID(context.Background(), "doc-1"); err == nil {
		t.Fatalf("expected error")
	}
	if repo.statusCalls[len(repo.statusCalls)-1].status != domain.StatusFailed {
		t.Fatalf("expected failed status, got %+v", repo.statusCalls)
	}
}
