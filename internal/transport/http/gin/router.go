package httpgin

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"github.com/ticketvia/seatlease/internal/domain"
	"github.com/ticketvia/seatlease/internal/repository"
	redisrepo "github.com/ticketvia/seatlease/internal/repository/redis"
	"github.com/ticketvia/seatlease/internal/service"
	"github.com/ticketvia/seatlease/internal/service/lease"
)

func NewRouter(
	svcs *service.Services,
	idem *redisrepo.IdempotencyStore,
	logger *slog.Logger,
	middlewares ...gin.HandlerFunc,
) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery(), LoggingMiddleware(logger), RequestIDMiddleware(), CORS())
	for _, m := range middlewares {
		if m != nil {
			r.Use(m)
		}
	}

	// Swagger UI
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// health
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Tenant-scoped API; every route needs the X-Tenant-ID header.
	api := r.Group("/", TenantMiddleware())
	{
		api.POST("/functions/:id/locks", handleAcquireLock(svcs, idem))
		api.POST("/functions/:id/locks/renew", handleRenewLock(svcs))
		api.POST("/functions/:id/locks/release", handleReleaseLock(svcs))
		api.POST("/functions/:id/locks/restore", handleRestoreSession(svcs))
		api.GET("/functions/:id/locks", handleListLocks(svcs))
		api.GET("/functions/:id/diagnostics", handleDiagnostics(svcs))
		api.DELETE("/functions/:id/sessions/:holder", handleReleaseSession(svcs))

		api.GET("/locks/by-locator/:locator", handleLocksByLocator(svcs))
		api.POST("/locks/release-by-locator", handleReleaseByLocator(svcs))
		api.POST("/locks/promote", handlePromote(svcs))
	}

	// Admin-API
	// TODO: add admin middleware
	admin := r.Group("/admin")
	{
		admin.GET("/tenants/:tenant/lock-settings", handleGetPolicy(svcs))
		admin.PUT("/tenants/:tenant/lock-settings", handleUpdatePolicy(svcs))
		admin.POST("/tenants/:tenant/cleanup", handleCleanup(svcs))
		admin.GET("/functions/:id/locks", TenantMiddleware(), handleDumpLocks(svcs))
		admin.DELETE("/functions/:id/locks/:seatId", TenantMiddleware(), handleForceRelease(svcs))
	}

	return r
}

// --- Handlers with Swagger annotations ---

// @Summary  Acquire seat lock (idempotent)
// @Param    X-Tenant-ID  header  string  true  "Tenant"
// @Param    id   path  int  true  "Function ID"
// @Param    req  body  AcquireLockRequest  true  "payload"
// @Header   201  {string}  Idempotency-Key  "echo"
// @Success  201  {object}  LeaseResponse
// @Failure  400  {object}  ErrorResponse
// @Failure  409  {object}  ErrorResponse  "seat already locked"
// @Failure  429  {object}  ErrorResponse  "rate limited"
// @Router   /functions/{id}/locks [post]
func handleAcquireLock(
	svcs *service.Services,
	idem *redisrepo.IdempotencyStore,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		functionID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		var req AcquireLockRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		tenant := tenantID(c)

		idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
		var idemStorageKey string
		if idem != nil && idemKey != "" {
			idemStorageKey = redisrepo.KeyIdemAcquire(tenant, functionID, idemKey)

			if payload, ok, _ := idem.GetResult(
				c.Request.Context(),
				idemStorageKey,
			); ok {
				c.Header("Idempotency-Key", idemKey)
				c.Data(
					http.StatusCreated,
					"application/json; charset=utf-8",
					[]byte(payload),
				)
				return
			}

			locked, err := idem.AcquireLock(
				c.Request.Context(),
				idemStorageKey,
				60*time.Second,
			)
			if err != nil {
				respondErr(c, err)
				return
			}
			if !locked {
				if payload, ok, _ := idem.GetResult(
					c.Request.Context(),
					idemStorageKey,
				); ok {
					c.Header("Idempotency-Key", idemKey)
					c.Data(
						http.StatusCreated,
						"application/json; charset=utf-8",
						[]byte(payload),
					)
					return
				}
				c.Header("Retry-After", "1")
				c.JSON(
					http.StatusConflict,
					ErrorResponse{Error: "idempotency key in progress"},
				)
				return
			}
		}

		l, err := svcs.Lease.Acquire(c.Request.Context(), lease.AcquireRequest{
			TenantID:   tenant,
			FunctionID: functionID,
			SeatID:     req.SeatID,
			Holder:     req.Holder,
			LockType:   domain.LockType(req.LockType),
			TableID:    req.TableID,
			ZoneID:     req.ZoneID,
			Locator:    req.Locator,
			RateKey:    "ip:" + c.ClientIP(),
		})
		if err != nil {
			if idemStorageKey != "" && idem != nil {
				_ = idem.Release(c.Request.Context(), idemStorageKey)
			}
			respondErr(c, err)
			return
		}

		resp := leaseToResponse(*l)

		if idemStorageKey != "" && idem != nil {
			b, _ := json.Marshal(resp)
			_ = idem.SaveResult(c.Request.Context(), idemStorageKey, string(b))
			c.Header("Idempotency-Key", idemKey)
		}

		c.JSON(http.StatusCreated, resp)
	}
}

// @Summary  Renew seat lock
// @Param    X-Tenant-ID  header  string  true  "Tenant"
// @Param    id   path  int  true  "Function ID"
// @Param    req  body  RenewLockRequest  true  "payload"
// @Success  200  {object}  LeaseResponse
// @Failure  404  {object}  ErrorResponse  "lock missing or held by someone else"
// @Router   /functions/{id}/locks/renew [post]
func handleRenewLock(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		functionID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		var req RenewLockRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		l, err := svcs.Lease.Renew(
			c.Request.Context(),
			tenantID(c),
			functionID,
			req.SeatID,
			req.Holder,
		)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, leaseToResponse(*l))
	}
}

// @Summary  Release seat lock (idempotent)
// @Param    X-Tenant-ID  header  string  true  "Tenant"
// @Param    id   path  int  true  "Function ID"
// @Param    req  body  ReleaseLockRequest  true  "payload"
// @Success  200  {object}  ReleasedResponse
// @Router   /functions/{id}/locks/release [post]
func handleReleaseLock(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		functionID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		var req ReleaseLockRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		if err := svcs.Lease.Release(
			c.Request.Context(),
			tenantID(c),
			functionID,
			req.SeatID,
			req.Holder,
		); err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, ReleasedResponse{Released: 1})
	}
}

// @Summary  Restore recently expired locks for a reconnecting holder
// @Param    X-Tenant-ID  header  string  true  "Tenant"
// @Param    id   path  int  true  "Function ID"
// @Param    req  body  RestoreRequest  true  "payload"
// @Success  200  {object}  LeaseListResponse
// @Router   /functions/{id}/locks/restore [post]
func handleRestoreSession(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		functionID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		var req RestoreRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		leases, err := svcs.Session.Restore(
			c.Request.Context(),
			tenantID(c),
			functionID,
			req.Holder,
		)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, leasesToResponse(leases))
	}
}

// @Summary  List live locks
// @Param    X-Tenant-ID  header  string  true  "Tenant"
// @Param    id      path   int     true   "Function ID"
// @Param    holder  query  string  false  "filter by holder"
// @Success  200  {object}  LeaseListResponse
// @Router   /functions/{id}/locks [get]
func handleListLocks(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		functionID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		leases, err := svcs.Lease.Query(
			c.Request.Context(),
			tenantID(c),
			functionID,
			c.Query("holder"),
		)
		if err != nil {
			respondErr(c, err)
			return
		}
		// ETag + Cache-Control 5s
		writeCachedJSON(c, http.StatusOK, leasesToResponse(leases), 5)
	}
}

// @Summary  Lock diagnostics for a function
// @Param    X-Tenant-ID  header  string  true  "Tenant"
// @Param    id  path  int  true  "Function ID"
// @Success  200  {object}  domain.FunctionLockStats
// @Router   /functions/{id}/diagnostics [get]
func handleDiagnostics(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		functionID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		stats, err := svcs.Diag.Stats(c.Request.Context(), tenantID(c), functionID)
		if err != nil {
			respondErr(c, err)
			return
		}
		// ETag + Cache-Control 5s
		writeCachedJSON(c, http.StatusOK, stats, 5)
	}
}

// @Summary  Release every lock a holder has on a function
// @Param    X-Tenant-ID  header  string  true  "Tenant"
// @Param    id      path  int     true  "Function ID"
// @Param    holder  path  string  true  "Holder"
// @Success  204
// @Router   /functions/{id}/sessions/{holder} [delete]
func handleReleaseSession(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		functionID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		holder := c.Param("holder")
		if holder == "" {
			badRequest(c, "invalid holder")
			return
		}
		if err := svcs.Session.ReleaseAll(
			c.Request.Context(),
			tenantID(c),
			functionID,
			holder,
		); err != nil {
			respondErr(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// @Summary  List the locks in a locator group
// @Param    X-Tenant-ID  header  string  true  "Tenant"
// @Param    locator  path  string  true  "Locator"
// @Success  200  {object}  LeaseListResponse
// @Router   /locks/by-locator/{locator} [get]
func handleLocksByLocator(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		leases, err := svcs.Lease.QueryLocator(
			c.Request.Context(),
			tenantID(c),
			c.Param("locator"),
		)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, leasesToResponse(leases))
	}
}

// @Summary  Release a whole locator group
// @Param    X-Tenant-ID  header  string  true  "Tenant"
// @Param    req  body  ReleaseByLocatorRequest  true  "payload"
// @Success  200  {object}  ReleasedResponse
// @Router   /locks/release-by-locator [post]
func handleReleaseByLocator(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ReleaseByLocatorRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		released, err := svcs.Lease.ReleaseByLocator(
			c.Request.Context(),
			tenantID(c),
			req.Locator,
		)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, ReleasedResponse{Released: len(released)})
	}
}

// @Summary  Promote a locator group to a sale (all seats or none)
// @Param    X-Tenant-ID  header  string  true  "Tenant"
// @Param    req  body  PromoteRequest  true  "payload"
// @Success  201  {object}  PromoteResponse
// @Failure  404  {object}  ErrorResponse  "locator empty"
// @Failure  409  {object}  ErrorResponse  "seats lost"
// @Router   /locks/promote [post]
func handlePromote(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req PromoteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		sale, err := svcs.Lease.PromoteToSale(
			c.Request.Context(),
			tenantID(c),
			req.Locator,
			req.SeatIDs,
		)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, PromoteResponse{
			SaleID:  sale.ID.String(),
			Locator: req.Locator,
			SeatIDs: sale.SeatIDs,
		})
	}
}

// @Summary  Get tenant lock settings
// @Param    tenant  path  string  true  "Tenant ID"
// @Success  200  {object}  domain.LockPolicy
// @Router   /admin/tenants/{tenant}/lock-settings [get]
func handleGetPolicy(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		pol, err := svcs.Policy.Get(c.Request.Context(), c.Param("tenant"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, pol)
	}
}

// @Summary  Update tenant lock settings (partial; omitted fields unchanged)
// @Param    tenant  path  string  true  "Tenant ID"
// @Param    req  body  UpdatePolicyRequest  true  "payload"
// @Success  200  {object}  domain.LockPolicy
// @Router   /admin/tenants/{tenant}/lock-settings [put]
func handleUpdatePolicy(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req UpdatePolicyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		// start from the tenant's effective policy so omitted fields
		// keep their current values
		pol, err := svcs.Policy.Get(c.Request.Context(), c.Param("tenant"))
		if err != nil {
			respondErr(c, err)
			return
		}
		pol.TenantID = c.Param("tenant")

		if req.LeaseDurationMinutes != nil {
			pol.LeaseDurationMinutes = *req.LeaseDurationMinutes
		}
		if req.WarningThresholdMinutes != nil {
			pol.WarningThresholdMinutes = *req.WarningThresholdMinutes
		}
		if req.SweepIntervalMinutes != nil {
			pol.SweepIntervalMinutes = *req.SweepIntervalMinutes
		}
		if req.RestorationWindowMinutes != nil {
			pol.RestorationWindowMinutes = *req.RestorationWindowMinutes
		}
		if req.AutoCleanupEnabled != nil {
			pol.AutoCleanupEnabled = *req.AutoCleanupEnabled
		}
		if req.NotificationsEnabled != nil {
			pol.NotificationsEnabled = *req.NotificationsEnabled
		}
		if req.RestorationEnabled != nil {
			pol.RestorationEnabled = *req.RestorationEnabled
		}

		saved, err := svcs.Policy.Update(c.Request.Context(), pol)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, saved)
	}
}

// @Summary  Evict expired locks for a tenant now
// @Param    tenant  path  string  true  "Tenant ID"
// @Success  200  {object}  CleanupResponse
// @Router   /admin/tenants/{tenant}/cleanup [post]
func handleCleanup(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		evicted, err := svcs.Diag.Cleanup(c.Request.Context(), c.Param("tenant"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, CleanupResponse{Evicted: evicted})
	}
}

// @Summary  Raw lock records for support, oldest first
// @Param    X-Tenant-ID  header  string  true  "Tenant"
// @Param    id      path   int     true   "Function ID"
// @Param    holder  query  string  false  "filter by holder"
// @Success  200  {object}  LeaseListResponse
// @Router   /admin/functions/{id}/locks [get]
func handleDumpLocks(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		functionID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		locks, err := svcs.Diag.Locks(
			c.Request.Context(),
			tenantID(c),
			functionID,
			c.Query("holder"),
		)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, leasesToResponse(locks))
	}
}

// @Summary  Force-release a lock regardless of holder
// @Param    X-Tenant-ID  header  string  true  "Tenant"
// @Param    id      path  int     true  "Function ID"
// @Param    seatId  path  string  true  "Seat ID"
// @Success  204
// @Router   /admin/functions/{id}/locks/{seatId} [delete]
func handleForceRelease(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		functionID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		if err := svcs.Diag.ForceRelease(
			c.Request.Context(),
			tenantID(c),
			functionID,
			c.Param("seatId"),
		); err != nil {
			respondErr(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// --- Helpers ---

func parseInt64Param(c *gin.Context, name string) (int64, bool) {
	s := c.Param(name)
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return v, true
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

func respondErr(c *gin.Context, err error) {
	if err == nil {
		c.Status(http.StatusNoContent)
		return
	}

	var partial *lease.PartialPromotionError

	switch {
	// lease service
	case errors.As(err, &partial):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:     "seats no longer held",
			LostSeats: partial.LostSeats,
		})
		return
	case errors.Is(err, lease.ErrSeatConflict):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "seat already locked"})
		return
	case errors.Is(err, lease.ErrLeaseNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "lock not found"})
		return
	case errors.Is(err, lease.ErrLocatorEmpty):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "locator has no live locks"})
		return
	case errors.Is(err, lease.ErrRateLimited):
		c.Header("Retry-After", "60")
		c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "rate limited"})
		return
	// repository
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not found"})
		return
	case errors.Is(err, repository.ErrConflict):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "conflict"})
		return
	}

	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
}
