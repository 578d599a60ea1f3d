package usecase

import (
	"context"
	"encoding/json"
	"time"

	"RegimePull/internal/domain/models"
	domrepo "RegimePull/internal/domain/repository"
	pkgkafka "RegimePull/pkg/kafka"
)

// KafkaBarsHandler consumes closed bars from the bars topic and feeds the
// evaluation pipeline. Bars are keyed by instrument upstream, so one
// partition never interleaves two instruments out of order.
type KafkaBarsHandler struct {
	topic   string
	proc    *BarProcessor
	metrics domrepo.Metrics
}

func NewKafkaBarsHandler(topic string, proc *BarProcessor, metrics domrepo.Metrics) *KafkaBarsHandler {
	return &KafkaBarsHandler{topic: topic, proc: proc, metrics: metrics}
}

func (h *KafkaBarsHandler) Topic() string { return h.topic }

// incoming message schema: {s, tf, t, o, h, l, c, v, lvl}
func (h *KafkaBarsHandler) Handle(ctx context.Context, b []byte) error {
	var m struct {
		S   string  `json:"s"`
		TF  string  `json:"tf"`
		T   int64   `json:"t"` // close time, ms
		O   float64 `json:"o"`
		H   float64 `json:"h"`
		L   float64 `json:"l"`
		C   float64 `json:"c"`
		V   float64 `json:"v"`
		Lvl float64 `json:"lvl"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return err
	}
	if m.T < 1e11 { // seconds
		m.T = m.T * 1000
	}
	closeTime := time.UnixMilli(m.T).UTC()
	h.metrics.RecordLatency("ingest_e2e_seconds", time.Since(closeTime).Seconds())

	return h.proc.Process(ctx, &models.Bar{
		InstrumentID:    m.S,
		Timeframe:       m.TF,
		CloseTime:       closeTime,
		Open:            m.O,
		High:            m.H,
		Low:             m.L,
		Close:           m.C,
		Volume:          m.V,
		StructuralLevel: m.Lvl,
	})
}

var _ pkgkafka.MessageHandler = (*KafkaBarsHandler)(nil)
