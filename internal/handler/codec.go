package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/boutique-orders/internal/domain/discount"
	"github.com/xenking/boutique-orders/internal/domain/order"
	"github.com/xenking/boutique-orders/internal/domain/product"
)

func writeJSON(w http.ResponseWriter, status int, e *jx.Encoder) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// readBody reads at most h.maxBody bytes of the request body.
func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		return nil, badRequest("read body: %s", err)
	}
	return body, nil
}

// decodeMoney accepts a JSON string or number.
func decodeMoney(d *jx.Decoder) (decimal.Decimal, error) {
	var raw string
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		raw = s
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, err
		}
		raw = string(n)
	default:
		return decimal.Decimal{}, errors.New("amount must be a string or number")
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, errors.Wrapf(err, "parse amount %q", raw)
	}
	return v, nil
}

// decodeOptStr decodes a string that may be null or empty into a pointer.
func decodeOptStr(d *jx.Decoder) (*string, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	s, err := d.Str()
	if err != nil || s == "" {
		return nil, err
	}
	return &s, nil
}

func decodePlaceOrder(data []byte) (order.PlaceOrderRequest, error) {
	var req order.PlaceOrderRequest
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "customer":
			return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
				var (
					dst *string
					err error
				)
				switch string(key) {
				case "name":
					dst = &req.Customer.Name
				case "email":
					dst = &req.Customer.Email
				case "phone":
					dst = &req.Customer.Phone
				case "address":
					dst = &req.Customer.Address
				default:
					return d.Skip()
				}
				*dst, err = d.Str()
				return err
			})
		case "items":
			return d.Arr(func(d *jx.Decoder) error {
				var line order.LineRequest
				err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
					var err error
					switch string(key) {
					case "productId":
						line.ProductID, err = d.Str()
					case "variantId":
						line.VariantID, err = decodeOptStr(d)
					case "quantity":
						line.Quantity, err = d.Int()
					default:
						err = d.Skip()
					}
					return err
				})
				req.Items = append(req.Items, line)
				return err
			})
		case "discountCode":
			code, err := decodeOptStr(d)
			if code != nil {
				req.DiscountCode = *code
			}
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return order.PlaceOrderRequest{}, badRequest("decode order: %s", err)
	}
	return req, nil
}

func encodeMoney(e *jx.Encoder, v decimal.Decimal) {
	e.Str(v.StringFixed(2))
}

func encodeTime(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339Nano))
}

func (h *Handler) encodeOrder(e *jx.Encoder, o *order.Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("number", func(e *jx.Encoder) { e.Str(o.Number) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("customer", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("name", func(e *jx.Encoder) { e.Str(o.Customer.Name) })
				e.Field("email", func(e *jx.Encoder) { e.Str(o.Customer.Email) })
				e.Field("phone", func(e *jx.Encoder) { e.Str(o.Customer.Phone) })
				e.Field("address", func(e *jx.Encoder) { e.Str(o.Customer.Address) })
			})
		})
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range o.Items {
					h.encodeItem(e, it)
				}
			})
		})
		e.Field("subtotal", func(e *jx.Encoder) { encodeMoney(e, o.Totals.Subtotal) })
		e.Field("discount", func(e *jx.Encoder) { encodeMoney(e, o.Totals.Discount) })
		e.Field("total", func(e *jx.Encoder) { encodeMoney(e, o.Totals.Total) })
		if o.Discount != nil {
			e.Field("appliedDiscount", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					if o.Discount.ID != nil {
						e.Field("id", func(e *jx.Encoder) { e.Str(*o.Discount.ID) })
					}
					e.Field("type", func(e *jx.Encoder) { e.Str(string(o.Discount.Type)) })
					e.Field("value", func(e *jx.Encoder) { e.Str(o.Discount.Value.String()) })
				})
			})
		}
		e.Field("createdAt", func(e *jx.Encoder) { encodeTime(e, o.CreatedAt) })
		e.Field("updatedAt", func(e *jx.Encoder) { encodeTime(e, o.UpdatedAt) })
	})
}

func (h *Handler) encodeItem(e *jx.Encoder, it order.Item) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(it.ID) })
		e.Field("productId", func(e *jx.Encoder) { e.Str(it.ProductID) })
		if it.VariantID != nil {
			e.Field("variantId", func(e *jx.Encoder) { e.Str(*it.VariantID) })
		}
		e.Field("name", func(e *jx.Encoder) { e.Str(it.Name) })
		e.Field("unitPrice", func(e *jx.Encoder) { encodeMoney(e, it.UnitPrice) })
		e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
		e.Field("lineTotal", func(e *jx.Encoder) { encodeMoney(e, it.LineTotal()) })
		if it.Size != "" {
			e.Field("size", func(e *jx.Encoder) { e.Str(it.Size) })
		}
		if it.Color != "" {
			e.Field("color", func(e *jx.Encoder) { e.Str(it.Color) })
		}
		if it.Image != "" {
			e.Field("image", func(e *jx.Encoder) { e.Str(h.imageURL(it.Image)) })
		}
	})
}

func encodeTotals(e *jx.Encoder, t order.Totals) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("subtotal", func(e *jx.Encoder) { encodeMoney(e, t.Subtotal) })
		e.Field("discount", func(e *jx.Encoder) { encodeMoney(e, t.Discount) })
		e.Field("total", func(e *jx.Encoder) { encodeMoney(e, t.Total) })
	})
}

func encodeAudit(e *jx.Encoder, r *order.AuditReport) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("orderId", func(e *jx.Encoder) { e.Str(r.OrderID) })
		e.Field("stored", func(e *jx.Encoder) { encodeTotals(e, r.Stored) })
		e.Field("computed", func(e *jx.Encoder) { encodeTotals(e, r.Computed) })
		e.Field("consistent", func(e *jx.Encoder) { e.Bool(r.Consistent) })
		e.Field("repaired", func(e *jx.Encoder) { e.Bool(r.Repaired) })
	})
}

func encodeApplication(e *jx.Encoder, app *discount.Application, subtotal decimal.Decimal) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Str(app.Code) })
		e.Field("type", func(e *jx.Encoder) { e.Str(string(app.Type)) })
		e.Field("value", func(e *jx.Encoder) { e.Str(app.Value.String()) })
		e.Field("subtotal", func(e *jx.Encoder) { encodeMoney(e, subtotal) })
		e.Field("amount", func(e *jx.Encoder) { encodeMoney(e, app.Amount) })
		e.Field("total", func(e *jx.Encoder) { encodeMoney(e, subtotal.Sub(app.Amount)) })
	})
}

func encodeVariant(e *jx.Encoder, v *product.Variant) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(v.ID) })
		e.Field("productId", func(e *jx.Encoder) { e.Str(v.ProductID) })
		e.Field("size", func(e *jx.Encoder) { e.Str(v.Size) })
		e.Field("color", func(e *jx.Encoder) { e.Str(v.Color) })
		e.Field("quantity", func(e *jx.Encoder) { e.Int(v.Quantity) })
		if v.Price.Valid {
			e.Field("price", func(e *jx.Encoder) { encodeMoney(e, v.Price.Decimal) })
		}
	})
}
