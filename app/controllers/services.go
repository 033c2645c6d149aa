package controllers

import (
	"gorm.io/gorm"

	"github.com/LukasBrandt/PicSmith/app/repository"
	"github.com/LukasBrandt/PicSmith/internal/pkg/billing"
	"github.com/LukasBrandt/PicSmith/internal/pkg/entitlement"
	"github.com/LukasBrandt/PicSmith/internal/pkg/generation"
	"github.com/LukasBrandt/PicSmith/internal/pkg/overage"
	"github.com/LukasBrandt/PicSmith/internal/pkg/resetcycle"
)

// Services bundles the request-scoped collaborators the handlers dispatch to.
// The router wires one instance at startup; tests inject fixtures directly.
type Services struct {
	Resolver   *entitlement.Resolver
	Generation *generation.Service
	Applier    *billing.Applier
	Scheduler  *resetcycle.Scheduler
	Overage    *overage.Aggregator
	Repos      *repository.Repositories
}

var services *Services

// SetupServices wires the handler dependencies against the shared database
// handle and the environment-configured clients.
func SetupServices(db *gorm.DB) {
	whop := billing.NewWhopClientFromEnv()
	resolver := entitlement.NewResolverFromDB(db, entitlement.ConfigFromEnv(), whop)

	services = &Services{
		Resolver:   resolver,
		Generation: generation.NewServiceFromDB(db, resolver),
		Applier:    billing.NewApplierFromDB(db, whop),
		Scheduler:  resetcycle.NewSchedulerFromDB(db),
		Overage:    overage.NewAggregatorFromDB(db),
		Repos:      repository.NewRepositories(db),
	}
}

// SetServices replaces the wired services. Tests use it to install fakes.
func SetServices(s *Services) {
	services = s
}
