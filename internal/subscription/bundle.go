package subscription

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xela07ax/knowledge-mesh/internal/domain"
	"github.com/xela07ax/knowledge-mesh/internal/source"
	"go.uber.org/zap"
)

// BundleStore — выборки, нужные air-gapped импорту.
type BundleStore interface {
	ListSubscriptionsBySource(ctx context.Context, sourceNotebookID string) ([]*domain.Subscription, error)
}

type bundleAuditor interface {
	LogExport(actor, notebookID string, since, through int64)
	LogImport(actor, subscriptionID string, entries int, through int64)
	LogImportRejected(actor, sourceID, reason string)
}

// Bundler — экспорт и импорт подписанных снапшотов для деплоев без сетевой
// связности. Импортированный контент проходит ТОТ ЖЕ путь применения, что и
// онлайновый sync (Syncer.ApplyItems): после применения их не различить.
type Bundler struct {
	signingKey ed25519.PrivateKey
	peerKeys   map[string]ed25519.PublicKey

	store   BundleStore
	syncer  *Syncer
	local   source.ContentSource
	auditor bundleAuditor
	logger  *zap.Logger

	batchSize int
}

// NewBundler разбирает ключи из конфигурации. Отсутствие signing-ключа
// допустимо (деплой только импортирует), отсутствие peer-ключей — тоже
// (деплой только экспортирует).
func NewBundler(signingKeyHex []byte, peerKeysHex map[string]string, store BundleStore, syncer *Syncer, local source.ContentSource, auditor bundleAuditor, batchSize int, logger *zap.Logger) (*Bundler, error) {
	b := &Bundler{
		store:     store,
		syncer:    syncer,
		local:     local,
		auditor:   auditor,
		batchSize: batchSize,
		logger:    logger.Named("bundler"),
		peerKeys:  make(map[string]ed25519.PublicKey, len(peerKeysHex)),
	}

	if len(signingKeyHex) > 0 {
		key, err := parseSigningKey(signingKeyHex)
		if err != nil {
			return nil, fmt.Errorf("export signing key: %w", err)
		}
		b.signingKey = key
	}
	for peer, pubHex := range peerKeysHex {
		raw, err := hex.DecodeString(strings.TrimSpace(pubHex))
		if err != nil || len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("peer key %q: not a hex ed25519 public key", peer)
		}
		b.peerKeys[peer] = ed25519.PublicKey(raw)
	}
	return b, nil
}

// Export собирает все изменения ноутбука с sequence > since и подписывает
// снапшот. Права вызывающего на ноутбук проверяет HTTP-слой (Require read);
// здесь только сборка и подпись.
func (b *Bundler) Export(ctx context.Context, actor, notebookID string, since int64, scope domain.SubscriptionScope) (*domain.ExportBundle, error) {
	if b.signingKey == nil {
		return nil, fmt.Errorf("export is not configured: no signing key")
	}
	if !scope.Valid() {
		return nil, domain.PolicyViolationf("unknown scope %q", scope)
	}

	bundle := &domain.ExportBundle{
		SourceID:        notebookID,
		Scope:           scope,
		SinceSequence:   since,
		ThroughSequence: since,
		ExportedAt:      time.Now().UTC(),
	}

	// Выгребаем источник до конца: бандл — полный снапшот дельты, не страница.
	cursor := since
	for {
		items, err := b.local.FetchSince(ctx, notebookID, cursor, b.batchSize)
		if err != nil {
			return nil, fmt.Errorf("export fetch: %w", err)
		}
		for _, item := range items {
			bundle.Entries = append(bundle.Entries, stripForScope(scope, item))
			if item.Sequence > bundle.ThroughSequence {
				bundle.ThroughSequence = item.Sequence
			}
		}
		if len(items) < b.batchSize {
			break
		}
		cursor = bundle.ThroughSequence
	}

	payload, err := canonicalPayload(bundle)
	if err != nil {
		return nil, err
	}
	bundle.Signature = base64.StdEncoding.EncodeToString(ed25519.Sign(b.signingKey, payload))

	b.auditor.LogExport(actor, notebookID, since, bundle.ThroughSequence)
	b.logger.Info("bundle exported",
		zap.String("notebook_id", notebookID),
		zap.Int("entries", len(bundle.Entries)),
		zap.Int64("through", bundle.ThroughSequence))
	return bundle, nil
}

// Import проверяет подпись бандла ключом названного пира и применяет записи
// ко всем подходящим подпискам. Атомарность на уровне бандла: битая подпись
// или неизвестный пир — ничего не применяется вообще (ErrIntegrity).
func (b *Bundler) Import(ctx context.Context, actor, peerID string, bundle *domain.ExportBundle) (int, error) {
	key, ok := b.peerKeys[peerID]
	if !ok {
		b.auditor.LogImportRejected(actor, bundle.SourceID, "unknown peer "+peerID)
		return 0, fmt.Errorf("%w: unknown peer %q", domain.ErrIntegrity, peerID)
	}

	payload, err := canonicalPayload(bundle)
	if err != nil {
		return 0, err
	}
	sig, err := base64.StdEncoding.DecodeString(bundle.Signature)
	if err != nil || !ed25519.Verify(key, payload, sig) {
		b.auditor.LogImportRejected(actor, bundle.SourceID, "signature verification failed")
		return 0, fmt.Errorf("%w: bundle signature verification failed", domain.ErrIntegrity)
	}

	// Импорт осмыслен только при существующей подписке на этот источник
	// с тем же охватом: бандл не создает подписок и не обходит их политику.
	subs, err := b.store.ListSubscriptionsBySource(ctx, bundle.SourceID)
	if err != nil {
		return 0, err
	}
	applied := 0
	matched := false
	for _, sub := range subs {
		if sub.Scope != bundle.Scope {
			continue
		}
		matched = true
		n, err := b.importInto(ctx, actor, sub, bundle)
		if err != nil {
			return applied, err
		}
		applied += n
	}
	if !matched {
		b.auditor.LogImportRejected(actor, bundle.SourceID, "no matching subscription")
		return 0, domain.PolicyViolationf("no subscription matches bundle source %s scope %s",
			bundle.SourceID, bundle.Scope)
	}
	return applied, nil
}

func (b *Bundler) importInto(ctx context.Context, actor string, sub *domain.Subscription, bundle *domain.ExportBundle) (int, error) {
	if !sub.Syncable() {
		b.logger.Warn("import skips suspended subscription", zap.String("id", sub.ID))
		return 0, nil
	}
	// Дыра между watermark и началом бандла означает потерянные изменения —
	// такой бандл к этой подписке неприменим.
	if sub.SyncWatermark < bundle.SinceSequence {
		b.auditor.LogImportRejected(actor, bundle.SourceID, fmt.Sprintf(
			"gap: subscription %s watermark %d < bundle since %d", sub.ID, sub.SyncWatermark, bundle.SinceSequence))
		return 0, fmt.Errorf("%w: bundle starts at %d but subscription %s watermark is %d",
			domain.ErrIntegrity, bundle.SinceSequence, sub.ID, sub.SyncWatermark)
	}

	claimed, err := b.syncer.store.MarkSyncing(ctx, sub.ID)
	if err != nil {
		return 0, err
	}
	if !claimed {
		return 0, fmt.Errorf("%w: subscription %s is busy", domain.ErrConflict, sub.ID)
	}

	applied, watermark, err := b.syncer.ApplyItems(ctx, sub, bundle.Entries)
	if err != nil {
		if ferr := b.syncer.store.FinishSyncError(ctx, sub.ID, err.Error()); ferr != nil {
			b.logger.Error("finish import error failed", zap.String("id", sub.ID), zap.Error(ferr))
		}
		return 0, fmt.Errorf("import apply: %w", err)
	}
	if bundle.ThroughSequence > watermark {
		watermark = bundle.ThroughSequence
	}
	count, err := b.syncer.store.CountMirrored(ctx, sub.ID)
	if err != nil {
		return 0, err
	}
	if err := b.syncer.store.FinishSyncOK(ctx, sub.ID, watermark, count); err != nil {
		return 0, err
	}

	b.auditor.LogImport(actor, sub.ID, applied, watermark)
	b.logger.Info("bundle imported",
		zap.String("subscription_id", sub.ID),
		zap.Int("entries", applied),
		zap.Int64("watermark", watermark))
	return applied, nil
}

// canonicalPayload — детерминированная сериализация бандла без поля signature:
// JSON с отсортированными ключами на всех уровнях, без лишних пробелов.
// Обе стороны обязаны получать байт-в-байт одинаковый payload.
func canonicalPayload(b *domain.ExportBundle) ([]byte, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("bundle canonicalize: %w", err)
	}
	// UseNumber: числа остаются десятичными литералами как есть. Прогон через
	// float64 менял бы подписанные байты для sequence за пределами 2^53.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic map[string]interface{}
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("bundle canonicalize: %w", err)
	}
	delete(generic, "signature")
	// json.Marshal для map сортирует ключи — это и дает каноничность
	payload, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("bundle canonicalize: %w", err)
	}
	return payload, nil
}

// stripForScope отсекает из элемента то, что не входит в охват подписки,
// еще на стороне экспортера: лишнее не должно пересекать периметр.
func stripForScope(scope domain.SubscriptionScope, item domain.SourceItem) domain.SourceItem {
	switch scope {
	case domain.ScopeCatalog:
		item.Body = ""
		item.Claims = nil
	case domain.ScopeClaims:
		item.Body = ""
	}
	return item
}

// parseSigningKey принимает hex: либо 32-байтовый seed, либо полный
// 64-байтовый приватный ключ ed25519.
func parseSigningKey(data []byte) (ed25519.PrivateKey, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("not hex: %w", err)
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	}
	return nil, fmt.Errorf("unexpected key length %d", len(raw))
}
