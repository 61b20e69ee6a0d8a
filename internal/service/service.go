package service

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"retailpos/backend/internal/cache"
	"retailpos/backend/internal/catalog"
	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/loyalty"
	"retailpos/backend/internal/report"
	"retailpos/backend/internal/sequence"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// AccrualQueue receives accruals that failed inline.
type AccrualQueue interface {
	Enqueue(ctx context.Context, job domain.AccrualJob) error
}

type Config struct {
	TaxRate  decimal.Decimal
	Location *time.Location
	TopN     int
	CacheTTL time.Duration
	Now      func() time.Time
}

// Deps overrides the collaborators built from the repository. Nil fields
// get defaults.
type Deps struct {
	Catalog      *catalog.Ledger
	Loyalty      *loyalty.Ledger
	Sequences    *sequence.Generator
	Reports      *report.Aggregator
	ReportCache  cache.ReportCache
	AccrualQueue AccrualQueue
}

type Service struct {
	repo      store.Repository
	catalog   *catalog.Ledger
	loyalty   *loyalty.Ledger
	sequences *sequence.Generator
	reports   *report.Aggregator
	accruals  AccrualQueue
	validate  *validator.Validate
	cfg       Config
}

func New(repo store.Repository, deps Deps, cfg Config) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if deps.Catalog == nil {
		deps.Catalog = catalog.NewLedger(repo)
	}
	if deps.Loyalty == nil {
		deps.Loyalty = loyalty.NewLedger(repo)
	}
	if deps.Sequences == nil {
		deps.Sequences = sequence.NewGenerator(sequence.NewStoreCounter(repo), cfg.Location)
	}
	if deps.Reports == nil {
		deps.Reports = report.NewAggregator(repo, deps.ReportCache, report.Config{
			Location: cfg.Location,
			TopN:     cfg.TopN,
			CacheTTL: cfg.CacheTTL,
		})
	}
	if deps.AccrualQueue == nil {
		deps.AccrualQueue = discardQueue{}
	}

	return &Service{
		repo:      repo,
		catalog:   deps.Catalog,
		loyalty:   deps.Loyalty,
		sequences: deps.Sequences,
		reports:   deps.Reports,
		accruals:  deps.AccrualQueue,
		validate:  newValidator(),
		cfg:       cfg,
	}
}

func (s *Service) Location() *time.Location {
	return s.cfg.Location
}

// discardQueue only logs; the sweeper picks the sale up later.
type discardQueue struct{}

func (discardQueue) Enqueue(_ context.Context, job domain.AccrualJob) error {
	log.Warn().Str("sale_id", job.SaleID).Msg("no accrual queue configured, leaving sale for the sweeper")
	return nil
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (s *Service) validateStruct(req any) error {
	if err := s.validate.Struct(req); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return invalidInput(fmt.Sprintf("field %s failed %s validation", fe.Namespace(), fe.Tag()))
		}
		return invalidInput("invalid request")
	}
	return nil
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	var from, to time.Time
	if strings.TrimSpace(date) == "" {
		to = s.cfg.Now().Add(time.Second)
		from = to.Add(-24 * time.Hour)
	} else {
		var err error
		from, to, err = report.DayBounds(date, s.cfg.Location)
		if err != nil {
			return nil, invalidInput("date must be YYYY-MM-DD")
		}
	}

	logs, err := s.repo.ListAuditLogs(ctx, from, to, limit)
	if err != nil {
		return nil, fromStore(err, "failed to list audit logs")
	}
	return logs, nil
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: ""}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.cfg.Now(),
	}); err != nil {
		log.Warn().Err(err).
			Str("action", action).
			Str("entity", entityType+"/"+entityID).
			Msg("failed to write audit log")
	}
}
