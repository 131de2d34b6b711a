package biz

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/PLark-droid/lark-slack-connector/internal/biz/domain"
	"github.com/PLark-droid/lark-slack-connector/internal/biz/repo"
	"github.com/PLark-droid/lark-slack-connector/internal/biz/usecase"
)

// Usecases contains all usecases of one workspace
type Usecases struct {
	Ledger    *usecase.LedgerUsecase
	Identity  *usecase.IdentityUsecase
	Filter    *usecase.FilterUsecase
	Transform *usecase.TransformUsecase
}

// Rules is the per-workspace configuration the usecases are built from
type Rules struct {
	Workspace string
	Filter    domain.MessageFilter
	Mappings  []domain.ChannelMapping
	Defaults  map[domain.Direction]string
	Format    domain.FormatOptions
}

// NewUsecases builds the usecases of one workspace over a shared store.
// A nil clock means time.Now.
func NewUsecases(store repo.Store, rules Rules, now func() time.Time, log zerolog.Logger) (*Usecases, error) {
	loc, err := rules.Format.Location()
	if err != nil {
		return nil, domain.NewConfigError("format.timezone", "%v", err)
	}
	if now == nil {
		now = time.Now
	}
	local := func() time.Time { return now().In(loc) }

	filter, err := usecase.NewFilterUsecase(rules.Filter, rules.Mappings, rules.Defaults, local)
	if err != nil {
		return nil, err
	}
	transform, err := usecase.NewTransformUsecase(rules.Format)
	if err != nil {
		return nil, err
	}
	return &Usecases{
		Ledger:    usecase.NewLedgerUsecase(store, rules.Workspace),
		Identity:  usecase.NewIdentityUsecase(store, rules.Workspace, log),
		Filter:    filter,
		Transform: transform,
	}, nil
}
