package identity

import (
	"context"

	"github.com/lunaria-live/lunaria/internal/model"
)

// ─────────────────────────────────────────────
// Identity & Provider Directory
//
// Credential issuance lives with the external
// identity provider. This service provisions the
// billing-side account rows, resolves bearer keys
// (used by the auth middleware on every request),
// and owns the provider-profile fields outside
// live session flow: rates and payout linkage.
// ─────────────────────────────────────────────

type Service interface {
	// Provision creates an account row plus its role-specific ledger row:
	// a wallet for clients, a provider profile for providers.
	// A unique API key is generated and returned with the Account.
	Provision(ctx context.Context, email, displayName string, role model.Role) (*model.Account, error)

	// GetByAPIKey looks up an account by its bearer key.
	// This is the main method used by the auth middleware on every request.
	GetByAPIKey(ctx context.Context, apiKey string) (*model.Account, error)

	// GetByID retrieves an account by its internal ID.
	GetByID(ctx context.Context, accountID string) (*model.Account, error)

	// ResetAPIKey regenerates the account's API key (invalidates old one).
	ResetAPIKey(ctx context.Context, accountID string) (*model.Account, error)

	// SetStatus sets account status (active / suspended).
	SetStatus(ctx context.Context, accountID string, status model.AccountStatus) error

	// GetProvider returns a provider's profile.
	GetProvider(ctx context.Context, providerID string) (*model.ProviderProfile, error)

	// ListAvailableProviders returns profiles currently open for sessions.
	ListAvailableProviders(ctx context.Context) ([]*model.ProviderProfile, error)

	// UpdateRates sets per-minute prices. Nil fields stay unchanged;
	// present fields must be positive. Running sessions keep their
	// snapshotted rate.
	UpdateRates(ctx context.Context, providerID string, upd model.RatesUpdate) (*model.ProviderProfile, error)

	// LinkPayoutAccount stores the external payout account reference and
	// moves linkage status to pending until the processor confirms it.
	LinkPayoutAccount(ctx context.Context, providerID, ref string) error

	// SetPayoutAccountStatus updates linkage status by provider id.
	SetPayoutAccountStatus(ctx context.Context, providerID string, status model.PayoutAccountStatus) error

	// SetPayoutAccountStatusByRef updates linkage status by external
	// account reference. Used by processor account webhooks.
	SetPayoutAccountStatusByRef(ctx context.Context, ref string, status model.PayoutAccountStatus) error
}
