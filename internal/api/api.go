package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wb-go/wbf/ginext"

	"campusevents/cmd/middleware"
	"campusevents/internal/service"
)

type Routers struct {
	Service   service.Service
	JWTSecret string
	Health    func(c *ginext.Context)
}

func NewRouters(r *Routers) *ginext.Engine {
	app := ginext.New("release")

	app.Use(middleware.LoggingMiddleware())
	app.Use(cors.Default())

	app.GET("/health", r.Health)
	app.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiGroup := app.Group("/v1")
	apiGroup.Use(middleware.Auth(r.JWTSecret))

	// Browsing is open to any authenticated caller.
	apiGroup.GET("/events/:id", r.Service.GetEvent)

	participant := apiGroup.Group("")
	participant.Use(middleware.RequireRole(middleware.RoleParticipant))
	participant.POST("/registrations/normal", r.Service.RegisterNormal)
	participant.POST("/registrations/merch", r.Service.PurchaseMerch)
	participant.DELETE("/registrations/:id", r.Service.CancelRegistration)

	organizer := apiGroup.Group("")
	organizer.Use(middleware.RequireRole(middleware.RoleOrganizer))
	organizer.POST("/events", r.Service.CreateEvent)
	organizer.GET("/events", r.Service.ListEvents)
	organizer.PATCH("/events/:id/status", r.Service.UpdateEventStatus)
	organizer.DELETE("/events/:id", r.Service.DeleteEvent)
	organizer.POST("/attendance/scan", r.Service.ScanAttendance)
	organizer.PATCH("/attendance/manual/:registrationId", r.Service.ManualOverride)
	organizer.GET("/attendance/stats/:eventId", r.Service.AttendanceStats)
	organizer.GET("/attendance/export/:eventId", r.Service.ExportAttendance)

	return app
}
