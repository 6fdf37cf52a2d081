package subscription

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/xela07ax/knowledge-mesh/internal/domain"
	"go.uber.org/zap"
)

type fakeBundleStore struct {
	subs []*domain.Subscription
}

func (f *fakeBundleStore) ListSubscriptionsBySource(_ context.Context, sourceID string) ([]*domain.Subscription, error) {
	var out []*domain.Subscription
	for _, s := range f.subs {
		if s.SourceNotebookID == sourceID {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakeBundleAuditor struct {
	exports  int
	imports  int
	rejected []string
}

func (f *fakeBundleAuditor) LogExport(_, _ string, _, _ int64) { f.exports++ }
func (f *fakeBundleAuditor) LogImport(_, _ string, _ int, _ int64) {
	f.imports++
}
func (f *fakeBundleAuditor) LogImportRejected(_, _, reason string) {
	f.rejected = append(f.rejected, reason)
}

func testKeyPair(t *testing.T) (signingHex []byte, publicHex string) {
	t.Helper()
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i + 1)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return []byte(hex.EncodeToString(seed)), hex.EncodeToString(priv.Public().(ed25519.PublicKey))
}

// exporterAndImporter собирает пару деплоев: первый подписывает бандлы,
// второй знает публичный ключ пира "org-remote".
func exporterAndImporter(t *testing.T, local *fakeSource, importSubs []*domain.Subscription) (*Bundler, *Bundler, *fakeSyncStore, *fakeBundleAuditor) {
	t.Helper()
	signingHex, publicHex := testKeyPair(t)

	expStore := newFakeSyncStore()
	expSyncer := newTestSyncer(expStore, local, &fakeSyncAuditor{})
	exporter, err := NewBundler(signingHex, nil, &fakeBundleStore{}, expSyncer, local, &fakeBundleAuditor{}, 2, zap.NewNop())
	if err != nil {
		t.Fatalf("exporter: %v", err)
	}

	impStore := newFakeSyncStore()
	impSyncer := newTestSyncer(impStore, local, &fakeSyncAuditor{})
	aud := &fakeBundleAuditor{}
	importer, err := NewBundler(nil, map[string]string{"org-remote": publicHex},
		&fakeBundleStore{subs: importSubs}, impSyncer, local, aud, 2, zap.NewNop())
	if err != nil {
		t.Fatalf("importer: %v", err)
	}
	return exporter, importer, impStore, aud
}

func TestBundleRoundTrip(t *testing.T) {
	t.Parallel()

	local := &fakeSource{label: domain.NewLabel(domain.LevelConfidential), items: []domain.SourceItem{
		{EntryID: "e1", Sequence: 1, Title: "alpha", Body: "body-1",
			Claims: []domain.Claim{{ID: "c1", EntryID: "e1", Text: "claim"}}},
		{EntryID: "e2", Sequence: 2, Title: "beta", Body: "body-2"},
		{EntryID: "e3", Sequence: 3, Title: "gamma", Body: "body-3"},
	}}
	sub := testSub(domain.ScopeEntries)
	exporter, importer, impStore, aud := exporterAndImporter(t, local, []*domain.Subscription{sub})

	bundle, err := exporter.Export(context.Background(), "op1", "nb-src", 0, domain.ScopeEntries)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	// batchSize=2, элементов 3: экспорт обязан выгрести источник до конца.
	if len(bundle.Entries) != 3 || bundle.ThroughSequence != 3 {
		t.Fatalf("bundle: %d entries through %d", len(bundle.Entries), bundle.ThroughSequence)
	}
	if bundle.Signature == "" {
		t.Fatal("bundle must be signed")
	}

	applied, err := importer.Import(context.Background(), "op2", "org-remote", bundle)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if applied != 3 {
		t.Errorf("applied: got %d, want 3", applied)
	}
	if len(impStore.mirrored) != 3 {
		t.Errorf("mirrored rows: got %d, want 3", len(impStore.mirrored))
	}
	if !impStore.finishedOK || impStore.watermark != 3 {
		t.Errorf("watermark: finished=%v wm=%d", impStore.finishedOK, impStore.watermark)
	}
	if aud.imports != 1 {
		t.Errorf("import must be audited")
	}
}

func TestBundleExportStripsForScope(t *testing.T) {
	t.Parallel()

	local := &fakeSource{label: domain.NewLabel(domain.LevelConfidential), items: []domain.SourceItem{
		{EntryID: "e1", Sequence: 1, Title: "alpha", Body: "secret body",
			Claims: []domain.Claim{{ID: "c1", EntryID: "e1", Text: "claim"}}},
	}}
	exporter, _, _, _ := exporterAndImporter(t, local, nil)

	bundle, err := exporter.Export(context.Background(), "op1", "nb-src", 0, domain.ScopeCatalog)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	// Лишнее не пересекает периметр: catalog — только метаданные.
	if e := bundle.Entries[0]; e.Body != "" || len(e.Claims) != 0 {
		t.Errorf("catalog bundle must not carry body/claims: %+v", e)
	}

	bundle, err = exporter.Export(context.Background(), "op1", "nb-src", 0, domain.ScopeClaims)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if e := bundle.Entries[0]; e.Body != "" || len(e.Claims) != 1 {
		t.Errorf("claims bundle must carry claims without body: %+v", e)
	}
}

func TestImportRejectsTamperedBundle(t *testing.T) {
	t.Parallel()

	local := &fakeSource{label: domain.NewLabel(domain.LevelConfidential), items: []domain.SourceItem{
		{EntryID: "e1", Sequence: 1, Title: "alpha", Body: "body-1"},
	}}
	sub := testSub(domain.ScopeEntries)
	exporter, importer, impStore, aud := exporterAndImporter(t, local, []*domain.Subscription{sub})

	bundle, err := exporter.Export(context.Background(), "op1", "nb-src", 0, domain.ScopeEntries)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	bundle.Entries[0].Body = "poisoned"

	applied, err := importer.Import(context.Background(), "op2", "org-remote", bundle)
	if !errors.Is(err, domain.ErrIntegrity) {
		t.Fatalf("got %v, want ErrIntegrity", err)
	}
	// Атомарность: ничего не применено даже частично.
	if applied != 0 || len(impStore.mirrored) != 0 {
		t.Error("tampered bundle must not be applied at all")
	}
	if len(aud.rejected) != 1 {
		t.Errorf("rejection must be audited: %v", aud.rejected)
	}
}

func TestImportRejectsUnknownPeer(t *testing.T) {
	t.Parallel()

	local := &fakeSource{label: domain.NewLabel(domain.LevelConfidential), items: []domain.SourceItem{
		{EntryID: "e1", Sequence: 1, Title: "alpha"},
	}}
	sub := testSub(domain.ScopeEntries)
	exporter, importer, _, _ := exporterAndImporter(t, local, []*domain.Subscription{sub})

	bundle, err := exporter.Export(context.Background(), "op1", "nb-src", 0, domain.ScopeEntries)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	if _, err := importer.Import(context.Background(), "op2", "org-stranger", bundle); !errors.Is(err, domain.ErrIntegrity) {
		t.Errorf("got %v, want ErrIntegrity", err)
	}
}

func TestImportRejectsSequenceGap(t *testing.T) {
	t.Parallel()

	local := &fakeSource{label: domain.NewLabel(domain.LevelConfidential), items: []domain.SourceItem{
		{EntryID: "e9", Sequence: 9, Title: "late"},
	}}
	sub := testSub(domain.ScopeEntries) // watermark 0
	exporter, importer, impStore, _ := exporterAndImporter(t, local, []*domain.Subscription{sub})

	// Бандл начинается с 5, подписка видела только до 0: между ними дыра.
	bundle, err := exporter.Export(context.Background(), "op1", "nb-src", 5, domain.ScopeEntries)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	if _, err := importer.Import(context.Background(), "op2", "org-remote", bundle); !errors.Is(err, domain.ErrIntegrity) {
		t.Errorf("got %v, want ErrIntegrity", err)
	}
	if len(impStore.mirrored) != 0 {
		t.Error("gapped bundle must not be applied")
	}
}

func TestImportRequiresMatchingSubscription(t *testing.T) {
	t.Parallel()

	local := &fakeSource{label: domain.NewLabel(domain.LevelConfidential), items: []domain.SourceItem{
		{EntryID: "e1", Sequence: 1, Title: "alpha"},
	}}
	// Подписка есть, но с другим охватом — бандл неприменим.
	sub := testSub(domain.ScopeCatalog)
	exporter, importer, _, aud := exporterAndImporter(t, local, []*domain.Subscription{sub})

	bundle, err := exporter.Export(context.Background(), "op1", "nb-src", 0, domain.ScopeEntries)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	if _, err := importer.Import(context.Background(), "op2", "org-remote", bundle); !errors.Is(err, domain.ErrPolicyViolation) {
		t.Errorf("got %v, want ErrPolicyViolation", err)
	}
	if len(aud.rejected) != 1 {
		t.Errorf("rejection must be audited: %v", aud.rejected)
	}
}

func TestImportSkipsSuspendedSubscription(t *testing.T) {
	t.Parallel()

	local := &fakeSource{label: domain.NewLabel(domain.LevelConfidential), items: []domain.SourceItem{
		{EntryID: "e1", Sequence: 1, Title: "alpha"},
	}}
	sub := testSub(domain.ScopeEntries)
	sub.SyncStatus = domain.SyncSuspended
	exporter, importer, impStore, _ := exporterAndImporter(t, local, []*domain.Subscription{sub})

	bundle, err := exporter.Export(context.Background(), "op1", "nb-src", 0, domain.ScopeEntries)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	applied, err := importer.Import(context.Background(), "op2", "org-remote", bundle)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	// Замороженная подписка замораживает и офлайновый канал.
	if applied != 0 || len(impStore.mirrored) != 0 {
		t.Error("suspended subscription must not receive bundle content")
	}
}

func TestExportWithoutSigningKeyFails(t *testing.T) {
	t.Parallel()

	local := &fakeSource{label: domain.NewLabel(domain.LevelConfidential)}
	store := newFakeSyncStore()
	syncer := newTestSyncer(store, local, &fakeSyncAuditor{})
	b, err := NewBundler(nil, nil, &fakeBundleStore{}, syncer, local, &fakeBundleAuditor{}, 10, zap.NewNop())
	if err != nil {
		t.Fatalf("NewBundler: %v", err)
	}

	if _, err := b.Export(context.Background(), "op1", "nb-src", 0, domain.ScopeEntries); err == nil {
		t.Error("export without a signing key must fail")
	}
}

func TestCanonicalPayloadKeepsLargeSequences(t *testing.T) {
	t.Parallel()

	// 2^53+1 непредставимо в float64: прогон чисел через него менял бы
	// подписанные байты между экспортером и импортером.
	const seq = int64(1<<53 + 1)
	bundle := &domain.ExportBundle{
		SourceID:        "nb-src",
		Scope:           domain.ScopeEntries,
		SinceSequence:   seq - 1,
		ThroughSequence: seq,
		Signature:       "stripped",
	}
	payload, err := canonicalPayload(bundle)
	if err != nil {
		t.Fatalf("canonicalPayload: %v", err)
	}
	if !strings.Contains(string(payload), "9007199254740993") {
		t.Errorf("through_sequence must survive verbatim: %s", payload)
	}
	if strings.Contains(string(payload), "signature") {
		t.Error("signature field must be stripped from the signed payload")
	}
}

func TestNewBundlerRejectsBadKeys(t *testing.T) {
	t.Parallel()

	local := &fakeSource{}
	store := newFakeSyncStore()
	syncer := newTestSyncer(store, local, &fakeSyncAuditor{})

	if _, err := NewBundler([]byte("not-hex"), nil, &fakeBundleStore{}, syncer, local, &fakeBundleAuditor{}, 10, zap.NewNop()); err == nil {
		t.Error("garbage signing key must be rejected")
	}
	if _, err := NewBundler(nil, map[string]string{"peer": "abcd"}, &fakeBundleStore{}, syncer, local, &fakeBundleAuditor{}, 10, zap.NewNop()); err == nil {
		t.Error("short peer key must be rejected")
	}
}
