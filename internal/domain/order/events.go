package order

import (
	"context"
	"time"

	"github.com/go-faster/jx"

	"github.com/xenking/boutique-orders/pkg/outbox"
)

// Event types published through the outbox.
const (
	AggregateType = "order"

	EventCreated        = "order.created"
	EventStatusChanged  = "order.status_changed"
	EventTotalsRepaired = "order.totals_repaired"
)

func encodeTotals(e *jx.Encoder, t Totals) {
	e.Field("subtotal", func(e *jx.Encoder) { e.Str(t.Subtotal.StringFixed(2)) })
	e.Field("discount", func(e *jx.Encoder) { e.Str(t.Discount.StringFixed(2)) })
	e.Field("total", func(e *jx.Encoder) { e.Str(t.Total.StringFixed(2)) })
}

func createdEvent(ctx context.Context, o *Order) outbox.Event {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("number", func(e *jx.Encoder) { e.Str(o.Number) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("customer_email", func(e *jx.Encoder) { e.Str(o.Customer.Email) })
		encodeTotals(e, o.Totals)
		if o.Discount != nil {
			e.Field("discount_type", func(e *jx.Encoder) { e.Str(string(o.Discount.Type)) })
			e.Field("discount_value", func(e *jx.Encoder) { e.Str(o.Discount.Value.String()) })
		}
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range o.Items {
					e.Obj(func(e *jx.Encoder) {
						e.Field("product_id", func(e *jx.Encoder) { e.Str(it.ProductID) })
						if it.VariantID != nil {
							e.Field("variant_id", func(e *jx.Encoder) { e.Str(*it.VariantID) })
						}
						e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
						e.Field("unit_price", func(e *jx.Encoder) { e.Str(it.UnitPrice.StringFixed(2)) })
					})
				}
			})
		})
		e.Field("created_at", func(e *jx.Encoder) { e.Str(o.CreatedAt.UTC().Format(time.RFC3339Nano)) })
	})
	return outbox.NewEvent(ctx, AggregateType, o.ID, EventCreated, e.Bytes())
}

func statusChangedEvent(ctx context.Context, id string, from, to Status, at time.Time) outbox.Event {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(id) })
		e.Field("from", func(e *jx.Encoder) { e.Str(string(from)) })
		e.Field("to", func(e *jx.Encoder) { e.Str(string(to)) })
		e.Field("at", func(e *jx.Encoder) { e.Str(at.UTC().Format(time.RFC3339Nano)) })
	})
	return outbox.NewEvent(ctx, AggregateType, id, EventStatusChanged, e.Bytes())
}

func totalsRepairedEvent(ctx context.Context, r *AuditReport) outbox.Event {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(r.OrderID) })
		e.Field("stored", func(e *jx.Encoder) { e.Obj(func(e *jx.Encoder) { encodeTotals(e, r.Stored) }) })
		e.Field("computed", func(e *jx.Encoder) { e.Obj(func(e *jx.Encoder) { encodeTotals(e, r.Computed) }) })
	})
	return outbox.NewEvent(ctx, AggregateType, r.OrderID, EventTotalsRepaired, e.Bytes())
}
