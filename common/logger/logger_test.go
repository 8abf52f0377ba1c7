package logger_test

import (
	"context"
	"log/slog"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"scout.dev/scout/common/logger"
)

// recordingHandler captures the attrs its Handle was called with, without
// doing any real formatting — just enough to assert ContextHandler's
// context-to-attribute bridging.
type recordingHandler struct {
	records []slog.Record
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }
func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.records = append(h.records, r)
	return nil
}
func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(name string) slog.Handler       { return h }

func attrMap(r slog.Record) map[string]slog.Value {
	out := map[string]slog.Value{}
	r.Attrs(func(a slog.Attr) bool {
		out[a.Key] = a.Value
		return true
	})
	return out
}

var _ = Describe("ContextHandler", func() {
	It("adds session_id, attempt, and component from context-carried fields", func() {
		base := &recordingHandler{}
		h := logger.NewContextHandler(base)

		attempt := 2
		ctx := logger.WithLogFields(context.Background(), logger.LogFields{
			SessionID: "sess-123",
			Attempt:   &attempt,
			Component: "scout.gate",
		})

		Expect(h.Handle(ctx, slog.Record{})).To(Succeed())
		Expect(base.records).To(HaveLen(1))

		attrs := attrMap(base.records[0])
		Expect(attrs["session_id"].String()).To(Equal("sess-123"))
		Expect(attrs["attempt"].Int64()).To(Equal(int64(2)))
		Expect(attrs["component"].String()).To(Equal("scout.gate"))
	})

	It("adds nothing when the context carries no log fields", func() {
		base := &recordingHandler{}
		h := logger.NewContextHandler(base)

		Expect(h.Handle(context.Background(), slog.Record{})).To(Succeed())
		Expect(attrMap(base.records[0])).To(BeEmpty())
	})
})

var _ = Describe("WithLogFields and GetLogFields", func() {
	It("returns an empty LogFields when none were ever set", func() {
		Expect(logger.GetLogFields(context.Background())).To(Equal(logger.LogFields{}))
	})

	It("merges fields across nested calls, newer non-empty values winning", func() {
		ctx := logger.WithLogFields(context.Background(), logger.LogFields{SessionID: "sess-1", Component: "scout.gate"})
		ctx = logger.WithLogFields(ctx, logger.LogFields{Attempt: logger.Ptr(1)})

		fields := logger.GetLogFields(ctx)
		Expect(fields.SessionID).To(Equal("sess-1"))
		Expect(fields.Component).To(Equal("scout.gate"))
		Expect(*fields.Attempt).To(Equal(1))
	})

	It("lets a later call override an earlier non-empty field", func() {
		ctx := logger.WithLogFields(context.Background(), logger.LogFields{Component: "scout.gate"})
		ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "scout.audit"})

		Expect(logger.GetLogFields(ctx).Component).To(Equal("scout.audit"))
	})
})

var _ = Describe("Truncate", func() {
	It("returns the string unchanged when under the limit", func() {
		Expect(logger.Truncate("short", 10)).To(Equal("short"))
	})

	It("truncates and appends an ellipsis when over the limit", func() {
		Expect(logger.Truncate("a long string", 5)).To(Equal("a lon..."))
	})
})
