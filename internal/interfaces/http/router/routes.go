package router

import (
	"github.com/freight/recognition/internal/infrastructure/auth"
	"github.com/freight/recognition/internal/interfaces/http/handler"
	"github.com/freight/recognition/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
)

// Handlers are the API handlers mounted by Routes
type Handlers struct {
	Recognition *handler.RecognitionHandler
	Journal     *handler.JournalHandler
	PeriodClose *handler.PeriodCloseHandler
	Policy      *handler.PolicyHandler
	Job         *handler.JobHandler
}

// Routes returns the route groups of the recognition API. Each route requires
// the permission of its capability; perms.AllowAnonymous lets requests
// without a token through when tokens are optional.
func Routes(h Handlers, perms middleware.PermissionConfig) []RouteRegistrar {
	require := func(permissions ...string) gin.HandlerFunc {
		return middleware.RequireAnyPermissionWithConfig(perms, permissions...)
	}
	read := require(auth.PermissionRecognitionRead, auth.PermissionRecognitionWrite)
	write := require(auth.PermissionRecognitionWrite)

	recognition := NewDomainGroup("recognition", "/recognition")
	recognition.GET("/postings/export", read, h.Journal.Export)

	jobs := recognition.Group("recognition-jobs", "/jobs/:type/:id")
	jobs.GET("", read, h.Recognition.GetStatus)
	jobs.GET("/postings", read, h.Recognition.ListPostings)
	jobs.POST("/wip", write, h.Recognition.RecognizeWIP)
	jobs.POST("/accrual", write, h.Recognition.RecognizeAccrual)
	jobs.POST("/wip/adjustments", write, h.Recognition.AdjustWIP)
	jobs.POST("/accrual/adjustments", write, h.Recognition.AdjustAccrual)
	jobs.POST("/close", write, h.Recognition.Close)

	period := recognition.Group("period-close", "/period-close")
	period.POST("", require(auth.PermissionPeriodClose), h.PeriodClose.Process)
	periodRead := require(auth.PermissionPeriodClose, auth.PermissionRecognitionRead)
	period.GET("/runs", periodRead, h.PeriodClose.ListRuns)
	period.GET("/runs/:id", periodRead, h.PeriodClose.GetRun)
	period.GET("/runs/:id/report", periodRead, h.PeriodClose.GetReport)

	policies := NewDomainGroup("policies", "/policies")
	policyRead := require(auth.PermissionPolicyAdmin, auth.PermissionRecognitionRead)
	policyAdmin := require(auth.PermissionPolicyAdmin)
	policies.GET("", policyRead, h.Policy.List)
	policies.POST("", policyAdmin, h.Policy.Create)
	policies.POST("/preview", policyRead, h.Policy.Preview)
	policies.GET("/:id", policyRead, h.Policy.Get)
	policies.PUT("/:id", policyAdmin, h.Policy.Update)
	policies.DELETE("/:id", policyAdmin, h.Policy.Delete)
	policies.POST("/:id/enable", policyAdmin, h.Policy.Enable)
	policies.POST("/:id/disable", policyAdmin, h.Policy.Disable)

	jobWrite := require(auth.PermissionJobWrite)
	jobSnapshots := NewDomainGroup("jobs", "/jobs/:type/:id")
	jobSnapshots.PUT("", jobWrite, h.Job.Upsert)
	jobSnapshots.GET("", require(auth.PermissionJobWrite, auth.PermissionRecognitionRead), h.Job.Get)
	jobSnapshots.POST("/status", jobWrite, h.Job.ChangeStatus)
	jobSnapshots.POST("/actuals", jobWrite, h.Job.RecordActual)

	return []RouteRegistrar{recognition, policies, jobSnapshots}
}
