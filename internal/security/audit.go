package security

import (
	"context"

	"go.uber.org/zap"

	"github.com/lanternchat/lantern/internal/store/adapter"
	t "github.com/lanternchat/lantern/internal/store/types"
)

// Audit tags, enumerated rather than free text so downstream queries
// can filter reliably.
const (
	ActionFailedLogin  = "failed_login"
	ActionRateLimitHit = "rate_limit_hit"
	ActionBlockIP      = "block_ip"
	ActionAdminAction  = "admin_action"
	ActionSlowConsumer = "slow_consumer_dropped"
	ActionNonceReuse   = "nonce_reuse"
)

// Auditor persists security-relevant events, logging a warning if the
// write itself fails rather than propagating — audit logging must
// never be the reason a connection drops.
type Auditor struct {
	Store  adapter.Adapter
	Logger *zap.Logger
}

func NewAuditor(store adapter.Adapter, logger *zap.Logger) *Auditor {
	return &Auditor{Store: store, Logger: logger}
}

// Record appends one audit entry. userID, resourceType, and resourceID
// may be empty when not applicable.
func (a *Auditor) Record(ctx context.Context, userID, action, resourceType, resourceID, detail, sourceAddr string) {
	entry := &t.AuditLogEntry{
		UserID:       userID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Detail:       detail,
		SourceAddr:   sourceAddr,
	}
	if err := a.Store.AuditAppend(ctx, entry); err != nil {
		a.Logger.Warn("audit append failed", zap.String("action", action), zap.Error(err))
	}
}
