package harvester

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/devicevault/server/internal/models"
	"github.com/devicevault/server/internal/observability"
	"github.com/devicevault/server/internal/services"
)

// KindResult summarizes one kind of a harvest cycle
type KindResult struct {
	DataType models.DataType
	Read     int
	Skipped  int // failed to map
	Undated  int // held back, no usable timestamp
	Pending  int // newer than the watermark
	Sent     bool
	Stored   int
	Err      error
}

// Harvester is the per-device edge agent: read, canonicalize, filter by
// watermark, send one batch per kind.
type Harvester struct {
	deviceID   string
	sources    []Source
	store      WatermarkStore
	transport  Transport
	normalizer *services.Normalizer
	now        func() time.Time
	log        *observability.Logger
}

// New creates a Harvester for deviceID
func New(deviceID string, sources []Source, store WatermarkStore, transport Transport) *Harvester {
	return &Harvester{
		deviceID:   deviceID,
		sources:    sources,
		store:      store,
		transport:  transport,
		normalizer: services.NewNormalizer(),
		now:        time.Now,
		log:        observability.WithField("device_id", deviceID),
	}
}

// SetClock overrides the clock used for send times
func (h *Harvester) SetClock(now func() time.Time) {
	h.now = now
	h.normalizer.SetClock(now)
}

// SyncOnce runs one harvest cycle over every source in order. A failing kind
// does not stop the others; the joined errors are returned.
func (h *Harvester) SyncOnce(ctx context.Context) ([]KindResult, error) {
	results := make([]KindResult, 0, len(h.sources))
	var errs []error

	for _, src := range h.sources {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res := h.syncKind(ctx, src)
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.DataType, res.Err))
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

type candidate struct {
	occurredAt int64
	payload    json.RawMessage
}

func (h *Harvester) syncKind(ctx context.Context, src Source) KindResult {
	kind := src.Kind()
	res := KindResult{DataType: kind}
	log := h.log.WithField("data_type", kind.String())

	raw, err := src.ReadAll(ctx)
	if err != nil {
		res.Err = err
		return res
	}
	res.Read = len(raw)

	key := WatermarkKey(h.deviceID, kind)
	watermark, _, err := h.store.Get(ctx, key)
	if err != nil {
		res.Err = fmt.Errorf("read watermark: %w", err)
		return res
	}

	pending := make([]candidate, 0, len(raw))
	for i, item := range raw {
		input, err := models.DecodeRawInput(kind, item)
		if err != nil {
			log.WithField("item", i).Warnf("Item skipped, mapping failed: %v", err)
			res.Skipped++
			continue
		}
		rec, err := h.normalizer.NormalizeInput(h.deviceID, input)
		if err != nil {
			log.WithField("item", i).Warnf("Item skipped, mapping failed: %v", err)
			res.Skipped++
			continue
		}
		occurred := rec.Timestamp.UnixMilli()
		if src.Ordered() && watermark > 0 {
			// An undated item would be stamped with a fresh "now" on every
			// cycle and never fall behind the watermark. It goes out with the
			// first send only.
			at, dated := services.OccurrenceTime(input)
			if !dated {
				res.Undated++
				continue
			}
			// Strict: an item exactly at the watermark was covered by the previous send
			if at.UnixMilli() <= watermark {
				continue
			}
		}
		payload, err := models.EncodePayload(rec.Payload)
		if err != nil {
			log.WithField("item", i).Warnf("Item skipped, encode failed: %v", err)
			res.Skipped++
			continue
		}
		pending = append(pending, candidate{occurredAt: occurred, payload: json.RawMessage(payload)})
	}

	if src.Ordered() {
		sort.SliceStable(pending, func(i, j int) bool { return pending[i].occurredAt < pending[j].occurredAt })
	}
	res.Pending = len(pending)
	if len(pending) == 0 {
		log.Debug("nothing new to send")
		return res
	}

	items := make([]json.RawMessage, len(pending))
	for i, c := range pending {
		items[i] = c.payload
	}

	// The watermark becomes the send time, not the newest item time
	sentAt := h.now().UTC()
	result, err := h.transport.SendBatch(ctx, h.deviceID, kind, items, sentAt)
	if err != nil {
		log.Warnf("Batch send failed, watermark kept at %d: %v", watermark, err)
		res.Err = err
		return res
	}
	res.Sent = true
	res.Stored = result.ItemsSynced

	if err := h.store.Set(ctx, key, sentAt.UnixMilli()); err != nil {
		// The next cycle resends the batch; the server absorbs it as duplicates
		res.Err = fmt.Errorf("advance watermark: %w", err)
		return res
	}

	log.WithFields(map[string]interface{}{
		"sent":   len(items),
		"stored": result.ItemsSynced,
	}).Info("Batch delivered")
	return res
}
