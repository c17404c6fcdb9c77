package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rumbosoft/rumbo/internal/artifact"
	"github.com/rumbosoft/rumbo/internal/authorization"
	"github.com/rumbosoft/rumbo/internal/bankfile"
	bankfiledomain "github.com/rumbosoft/rumbo/internal/bankfile/domain"
	"github.com/rumbosoft/rumbo/internal/billingcycle"
	"github.com/rumbosoft/rumbo/internal/billingevent"
	billingeventdomain "github.com/rumbosoft/rumbo/internal/billingevent/domain"
	"github.com/rumbosoft/rumbo/internal/charge"
	chargedomain "github.com/rumbosoft/rumbo/internal/charge/domain"
	"github.com/rumbosoft/rumbo/internal/collections"
	collectionsdomain "github.com/rumbosoft/rumbo/internal/collections/domain"
	"github.com/rumbosoft/rumbo/internal/config"
	"github.com/rumbosoft/rumbo/internal/mandate"
	mandatedomain "github.com/rumbosoft/rumbo/internal/mandate/domain"
	"github.com/rumbosoft/rumbo/internal/modifier"
	modifierdomain "github.com/rumbosoft/rumbo/internal/modifier/domain"
	"github.com/rumbosoft/rumbo/internal/observability"
	obslogger "github.com/rumbosoft/rumbo/internal/observability/logger"
	obsmetrics "github.com/rumbosoft/rumbo/internal/observability/metrics"
	obstracing "github.com/rumbosoft/rumbo/internal/observability/tracing"
	"github.com/rumbosoft/rumbo/internal/payment"
	paymentdomain "github.com/rumbosoft/rumbo/internal/payment/domain"
	"github.com/rumbosoft/rumbo/internal/ratelimit"
	"github.com/rumbosoft/rumbo/internal/subscription"
	subscriptiondomain "github.com/rumbosoft/rumbo/internal/subscription/domain"
	"github.com/rumbosoft/rumbo/internal/tenantctx"
	"github.com/rumbosoft/rumbo/internal/vault"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	config.Module,
	fx.Provide(registerGin),
	authorization.Module,
	ratelimit.Module,
	vault.Module,
	billingevent.Module,
	subscription.Module,
	modifier.Module,
	billingcycle.Module,
	charge.Module,
	mandate.Module,
	collections.Module,
	payment.Module,
	artifact.Module,
	bankfile.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine *gin.Engine
	cfg    config.Config
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node

	collectionsSvc  collectionsdomain.Service
	mandateSvc      mandatedomain.Service
	subscriptionSvc subscriptiondomain.Service
	paymentSvc      paymentdomain.Service
	bankSvc         bankfiledomain.Service
	modifierSvc     modifierdomain.Service
	chargeSvc       chargedomain.Service
	eventSvc        billingeventdomain.Service
	authzSvc        authorization.Service
	mandateLimiter  *ratelimit.MandateSubmitLimiter
}

type ServerParams struct {
	fx.In

	Gin   *gin.Engine
	Cfg   config.Config
	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node

	CollectionsSvc  collectionsdomain.Service
	MandateSvc      mandatedomain.Service
	SubscriptionSvc subscriptiondomain.Service
	PaymentSvc      paymentdomain.Service
	BankSvc         bankfiledomain.Service
	ModifierSvc     modifierdomain.Service
	ChargeSvc       chargedomain.Service
	EventSvc        billingeventdomain.Service
	AuthzSvc        authorization.Service
	MandateLimiter  *ratelimit.MandateSubmitLimiter
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		db:              p.DB,
		log:             p.Log.Named("server"),
		genID:           p.GenID,
		collectionsSvc:  p.CollectionsSvc,
		mandateSvc:      p.MandateSvc,
		subscriptionSvc: p.SubscriptionSvc,
		paymentSvc:      p.PaymentSvc,
		bankSvc:         p.BankSvc,
		modifierSvc:     p.ModifierSvc,
		chargeSvc:       p.ChargeSvc,
		eventSvc:        p.EventSvc,
		authzSvc:        p.AuthzSvc,
		mandateLimiter:  p.MandateLimiter,
	}

	svc.registerAPIRoutes()
	svc.registerAdminRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Payment Webhooks --------
	// Provider-initiated; authenticated by signature, not by tenant headers.
	api.POST("/payments/webhooks/:provider", s.HandlePaymentWebhook)

	// -------- Collections (subscriber dashboard) --------
	col := api.Group("/collections", s.TenantContext())
	col.GET("/overview", s.GetCollectionsOverview)
	col.POST("/mandate", s.MandateSubmitRateLimit(), s.SubmitMandate)
	col.DELETE("/mandate", s.RevokeMandate)
	col.GET("/payment-methods", s.ListPaymentMethods)
	col.POST("/charges/:id/intents", s.CreateChargeIntent)
	col.GET("/intents/:id", s.GetIntent)
	col.POST("/intents/:id/cancel", s.CancelIntent)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin")
	admin.Use(s.TenantContext())

	// -------- Billing Modifiers --------
	admin.GET("/modifiers", s.RequireRole(tenantctx.RoleOwner, tenantctx.RoleAdmin, tenantctx.RoleOperator), s.authorizeAction(authorization.ObjectModifier, authorization.ActionModifierView), s.ListModifiers)
	admin.POST("/modifiers", s.RequireRole(tenantctx.RoleOwner, tenantctx.RoleAdmin), s.authorizeAction(authorization.ObjectModifier, authorization.ActionModifierCreate), s.CreateModifier)
	admin.PATCH("/modifiers/:id", s.RequireRole(tenantctx.RoleOwner, tenantctx.RoleAdmin), s.authorizeAction(authorization.ObjectModifier, authorization.ActionModifierUpdate), s.UpdateModifier)
	admin.DELETE("/modifiers/:id", s.RequireRole(tenantctx.RoleOwner, tenantctx.RoleAdmin), s.authorizeAction(authorization.ObjectModifier, authorization.ActionModifierDelete), s.DeleteModifier)

	// -------- Bank Batches --------
	admin.POST("/bank-batches/outbound", s.RequireRole(tenantctx.RoleOwner, tenantctx.RoleAdmin), s.authorizeAction(authorization.ObjectBankBatch, authorization.ActionBankBatchBuild), s.BuildOutboundBatch)
	admin.POST("/bank-batches/inbound", s.RequireRole(tenantctx.RoleOwner, tenantctx.RoleAdmin), s.authorizeAction(authorization.ObjectBankBatch, authorization.ActionBankBatchImport), s.ImportInboundBatch)
	admin.GET("/bank-batches", s.RequireRole(tenantctx.RoleOwner, tenantctx.RoleAdmin, tenantctx.RoleOperator), s.authorizeAction(authorization.ObjectBankBatch, authorization.ActionBankBatchView), s.ListBankBatches)
	admin.GET("/bank-batches/:id/file", s.RequireRole(tenantctx.RoleOwner, tenantctx.RoleAdmin, tenantctx.RoleOperator), s.authorizeAction(authorization.ObjectBankBatch, authorization.ActionBankBatchView), s.DownloadBankBatchFile)
	admin.GET("/bank-batches/:id/manifest", s.RequireRole(tenantctx.RoleOwner, tenantctx.RoleAdmin, tenantctx.RoleOperator), s.authorizeAction(authorization.ObjectBankBatch, authorization.ActionBankBatchView), s.DownloadBankBatchManifest)

	// -------- Charges --------
	admin.POST("/charges", s.RequireRole(tenantctx.RoleOwner, tenantctx.RoleAdmin), s.authorizeAction(authorization.ObjectCharge, authorization.ActionChargeCreate), s.CreateExtraCharge)
	admin.GET("/charges", s.RequireRole(tenantctx.RoleOwner, tenantctx.RoleAdmin, tenantctx.RoleOperator), s.authorizeAction(authorization.ObjectCharge, authorization.ActionChargeView), s.ListCharges)
	admin.GET("/charges/:id", s.RequireRole(tenantctx.RoleOwner, tenantctx.RoleAdmin, tenantctx.RoleOperator), s.authorizeAction(authorization.ObjectCharge, authorization.ActionChargeView), s.GetCharge)

	// -------- Billing Events --------
	admin.GET("/billing-events", s.RequireRole(tenantctx.RoleOwner, tenantctx.RoleAdmin, tenantctx.RoleOperator), s.authorizeAction(authorization.ObjectBillingEvent, authorization.ActionBillingEventView), s.ListBillingEvents)

	// -------- Subscription --------
	admin.GET("/subscription", s.RequireRole(tenantctx.RoleOwner, tenantctx.RoleAdmin, tenantctx.RoleOperator), s.authorizeAction(authorization.ObjectSubscription, authorization.ActionSubscriptionView), s.GetSubscriptionDetail)
	admin.POST("/subscription/cancel", s.RequireRole(tenantctx.RoleOwner, tenantctx.RoleAdmin), s.CancelSubscription)

	// -------- Mandate (back office) --------
	admin.DELETE("/mandate", s.RequireRole(tenantctx.RoleOwner, tenantctx.RoleAdmin), s.authorizeAction(authorization.ObjectMandate, authorization.ActionMandateRevoke), s.AdminRevokeMandate)
}
