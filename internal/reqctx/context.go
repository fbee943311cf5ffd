package reqctx

import "context"

type ctxKey string

const (
	keyRID        ctxKey = "rid"
	keyPurchaseID ctxKey = "purchase_id"
)

// WithRID stores the request correlation id.
func WithRID(ctx context.Context, rid string) context.Context {
	return context.WithValue(ctx, keyRID, rid)
}

// RID returns correlation id if present.
func RID(ctx context.Context) string {
	v, _ := ctx.Value(keyRID).(string)
	return v
}

// WithPurchaseID tags settlement logs with the purchase being processed.
func WithPurchaseID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyPurchaseID, id)
}

func PurchaseID(ctx context.Context) string {
	v, _ := ctx.Value(keyPurchaseID).(string)
	return v
}
