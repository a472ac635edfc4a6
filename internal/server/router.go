package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/quayside/daybook/internal/appointments"
	"github.com/quayside/daybook/internal/auth"
	"github.com/quayside/daybook/internal/identity"
	"github.com/quayside/daybook/internal/tasklist"
	"github.com/quayside/daybook/internal/tasks"
)

const (
	accountContextKey     = "daybook_account"
	accessTokenQueryParam = "access_token"

	defaultStreamHeartbeat = 25 * time.Second
)

var (
	errMissingIdentityVerifier    = errors.New("identity verifier dependency required")
	errMissingTokenManager        = errors.New("token manager dependency required")
	errMissingAccountsService     = errors.New("accounts service dependency required")
	errMissingTasksService        = errors.New("tasks service dependency required")
	errMissingAppointmentsService = errors.New("appointments service dependency required")
	errInvalidAuthorization       = errors.New("authorization header missing or invalid")
)

// IdentityVerifier checks an identity-provider token and returns its claims.
type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (auth.IdentityClaims, error)
}

// SessionTokenManager mints and validates the service's own session tokens.
type SessionTokenManager interface {
	IssueSessionToken(ctx context.Context, claims auth.IdentityClaims) (string, int64, error)
	ValidateToken(token string) (auth.SessionClaims, error)
}

type Dependencies struct {
	IdentityVerifier    IdentityVerifier
	TokenManager        SessionTokenManager
	AccountsService     *identity.Service
	TasksService        *tasks.Service
	AppointmentsService *appointments.Service
	Realtime            *RealtimeDispatcher
	StreamHeartbeat     time.Duration
	Logger              *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.IdentityVerifier == nil {
		return nil, errMissingIdentityVerifier
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.AccountsService == nil {
		return nil, errMissingAccountsService
	}
	if deps.TasksService == nil {
		return nil, errMissingTasksService
	}
	if deps.AppointmentsService == nil {
		return nil, errMissingAppointmentsService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dispatcher := deps.Realtime
	if dispatcher == nil {
		dispatcher = NewRealtimeDispatcher()
	}
	heartbeat := deps.StreamHeartbeat
	if heartbeat <= 0 {
		heartbeat = defaultStreamHeartbeat
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		verifier:            deps.IdentityVerifier,
		tokens:              deps.TokenManager,
		accountsService:     deps.AccountsService,
		tasksService:        deps.TasksService,
		appointmentsService: deps.AppointmentsService,
		realtime:            dispatcher,
		heartbeatInterval:   heartbeat,
		logger:              logger,
	}

	router.POST("/auth/token", handler.handleTokenExchange)

	protected := router.Group("/")
	protected.Use(handler.authorize(false))
	protected.GET("/session", handler.handleSession)
	protected.GET("/tasks", handler.handleListTasks)
	protected.POST("/tasks", handler.handleCreateTask)
	protected.PATCH("/tasks/:id", handler.handleUpdateTask)
	protected.DELETE("/tasks/:id", handler.handleDeleteTask)
	protected.PUT("/tasks/order", handler.handleReorderTasks)
	protected.GET("/tasks/export", handler.handleExportTasks)
	protected.POST("/appointments", handler.handleCreateAppointment)
	protected.GET("/appointments", handler.handleListAppointments)
	protected.GET("/appointments/slots", handler.handleSlots)
	protected.PATCH("/appointments/:id", handler.handleRescheduleAppointment)
	protected.PATCH("/appointments/:id/status", handler.handleAppointmentStatus)
	protected.POST("/appointments/:id/notes", handler.handleAppointmentNote)

	// EventSource cannot set request headers, so the stream route also
	// accepts the session token as a query parameter.
	stream := router.Group("/")
	stream.Use(handler.authorize(true))
	stream.GET("/tasks/stream", handler.handleTaskStream)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc: func(string) bool { return true },
		AllowMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPatch,
			http.MethodPut,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Cache-Control", "Last-Event-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

type httpHandler struct {
	verifier            IdentityVerifier
	tokens              SessionTokenManager
	accountsService     *identity.Service
	tasksService        *tasks.Service
	appointmentsService *appointments.Service
	realtime            *RealtimeDispatcher
	heartbeatInterval   time.Duration
	logger              *zap.Logger
}

type authRequestPayload struct {
	IDToken string `json:"id_token"`
}

type authResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleTokenExchange(c *gin.Context) {
	var request authRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.IDToken) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	claims, err := h.verifier.Verify(c.Request.Context(), request.IDToken)
	if err != nil {
		h.logger.Warn("identity token verification failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if _, err := h.accountsService.Resolve(c.Request.Context(), claims.Subject, claims.Email, claims.Name); err != nil {
		h.logger.Error("account resolution failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "account_lookup_failed"})
		return
	}

	token, expiresIn, err := h.tokens.IssueSessionToken(c.Request.Context(), claims)
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, authResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

type sessionResponsePayload struct {
	Subject     string `json:"subject"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

func (h *httpHandler) handleSession(c *gin.Context) {
	account, ok := h.currentAccount(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sessionResponsePayload{
		Subject:     account.Subject,
		Email:       account.Email,
		DisplayName: account.DisplayName,
		Role:        account.Role.String(),
	})
}

type tasksResponsePayload struct {
	Tasks []tasks.Task `json:"tasks"`
}

func (h *httpHandler) handleListTasks(c *gin.Context) {
	owner, ok := h.currentOwner(c)
	if !ok {
		return
	}
	records, err := h.tasksService.List(c.Request.Context(), owner)
	if err != nil {
		h.respondServiceError(c, "tasks.list", err)
		return
	}
	if records == nil {
		records = make([]tasks.Task, 0)
	}
	c.JSON(http.StatusOK, tasksResponsePayload{Tasks: records})
}

type createTaskPayload struct {
	Text string `json:"text"`
}

func (h *httpHandler) handleCreateTask(c *gin.Context) {
	owner, ok := h.currentOwner(c)
	if !ok {
		return
	}
	var request createTaskPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	text, err := tasks.NewText(request.Text)
	if err != nil {
		h.respondServiceError(c, "tasks.create", err)
		return
	}
	record, err := h.tasksService.Create(c.Request.Context(), owner, text)
	if err != nil {
		h.respondServiceError(c, "tasks.create", err)
		return
	}
	h.publishTaskEvent(owner.String(), tasklist.EventInsert, record)
	c.JSON(http.StatusCreated, record)
}

type updateTaskPayload struct {
	Text      *string `json:"text"`
	Completed *bool   `json:"completed"`
}

func (h *httpHandler) handleUpdateTask(c *gin.Context) {
	owner, ok := h.currentOwner(c)
	if !ok {
		return
	}
	taskID, ok := pathTaskID(c)
	if !ok {
		return
	}
	var request updateTaskPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	patch := tasks.Patch{Completed: request.Completed}
	if request.Text != nil {
		text, err := tasks.NewText(*request.Text)
		if err != nil {
			h.respondServiceError(c, "tasks.update", err)
			return
		}
		patch.Text = &text
	}
	record, err := h.tasksService.Update(c.Request.Context(), owner, taskID, patch)
	if err != nil {
		h.respondServiceError(c, "tasks.update", err)
		return
	}
	h.publishTaskEvent(owner.String(), tasklist.EventUpdate, record)
	c.JSON(http.StatusOK, record)
}

func (h *httpHandler) handleDeleteTask(c *gin.Context) {
	owner, ok := h.currentOwner(c)
	if !ok {
		return
	}
	taskID, ok := pathTaskID(c)
	if !ok {
		return
	}
	record, err := h.tasksService.Delete(c.Request.Context(), owner, taskID)
	if err != nil {
		h.respondServiceError(c, "tasks.delete", err)
		return
	}
	h.publishTaskEvent(owner.String(), tasklist.EventDelete, record)
	c.JSON(http.StatusOK, record)
}

type orderRequestPayload struct {
	TaskIDs []int64 `json:"task_ids"`
}

func (h *httpHandler) handleReorderTasks(c *gin.Context) {
	owner, ok := h.currentOwner(c)
	if !ok {
		return
	}
	var request orderRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	batch, err := h.tasksService.Reorder(c.Request.Context(), owner, request.TaskIDs)
	if err != nil {
		h.respondServiceError(c, "tasks.reorder", err)
		return
	}
	for _, record := range batch {
		h.publishTaskEvent(owner.String(), tasklist.EventUpdate, record)
	}
	c.JSON(http.StatusOK, tasksResponsePayload{Tasks: batch})
}

func (h *httpHandler) handleExportTasks(c *gin.Context) {
	owner, ok := h.currentOwner(c)
	if !ok {
		return
	}
	records, err := h.tasksService.List(c.Request.Context(), owner)
	if err != nil {
		h.respondServiceError(c, "tasks.export", err)
		return
	}
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", tasks.ExportFilename))
	c.Status(http.StatusOK)
	if err := tasks.WriteCSV(c.Writer, records); err != nil {
		h.logger.Error("csv export write failed", zap.Error(err))
	}
}

func (h *httpHandler) handleTaskStream(c *gin.Context) {
	account, ok := h.currentAccount(c)
	if !ok {
		return
	}

	stream, cleanup := h.realtime.Subscribe(c.Request.Context(), account.Subject)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case message, open := <-stream:
			if !open {
				return
			}
			payload, err := json.Marshal(message.Event.Task)
			if err != nil {
				h.logger.Error("failed to encode stream event", zap.Error(err))
				continue
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", message.Event.Kind, payload)
			c.Writer.Flush()
		case <-heartbeat.C:
			fmt.Fprintf(c.Writer, "event: %s\ndata: {}\n\n", realtimeEventHeartbeat)
			c.Writer.Flush()
		}
	}
}

type appointmentRequestPayload struct {
	Title    string    `json:"title"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
}

func (h *httpHandler) handleCreateAppointment(c *gin.Context) {
	actor, ok := h.currentActor(c)
	if !ok {
		return
	}
	var request appointmentRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.StartsAt.IsZero() || request.EndsAt.IsZero() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	title, err := appointments.NewTitle(request.Title)
	if err != nil {
		h.respondServiceError(c, "appointments.create", err)
		return
	}
	record, err := h.appointmentsService.Create(c.Request.Context(), actor, title, request.StartsAt, request.EndsAt)
	if err != nil {
		h.respondServiceError(c, "appointments.create", err)
		return
	}
	c.JSON(http.StatusCreated, record)
}

type appointmentsResponsePayload struct {
	Appointments []appointments.Appointment `json:"appointments"`
}

func (h *httpHandler) handleListAppointments(c *gin.Context) {
	actor, ok := h.currentActor(c)
	if !ok {
		return
	}
	var day *time.Time
	if raw := strings.TrimSpace(c.Query("day")); raw != "" {
		parsed, err := h.appointmentsService.Policy().ParseDay(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_day"})
			return
		}
		day = &parsed
	}
	records, err := h.appointmentsService.List(c.Request.Context(), actor, day)
	if err != nil {
		h.respondServiceError(c, "appointments.list", err)
		return
	}
	if records == nil {
		records = make([]appointments.Appointment, 0)
	}
	c.JSON(http.StatusOK, appointmentsResponsePayload{Appointments: records})
}

type slotsResponsePayload struct {
	Day   string              `json:"day"`
	Slots []appointments.Slot `json:"slots"`
}

func (h *httpHandler) handleSlots(c *gin.Context) {
	if _, ok := h.currentActor(c); !ok {
		return
	}
	raw := strings.TrimSpace(c.Query("day"))
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_day"})
		return
	}
	day, err := h.appointmentsService.Policy().ParseDay(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_day"})
		return
	}
	slots, err := h.appointmentsService.Slots(c.Request.Context(), day)
	if err != nil {
		h.respondServiceError(c, "appointments.slots", err)
		return
	}
	c.JSON(http.StatusOK, slotsResponsePayload{Day: raw, Slots: slots})
}

type reschedulePayload struct {
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
}

func (h *httpHandler) handleRescheduleAppointment(c *gin.Context) {
	actor, ok := h.currentActor(c)
	if !ok {
		return
	}
	var request reschedulePayload
	if err := c.ShouldBindJSON(&request); err != nil || request.StartsAt.IsZero() || request.EndsAt.IsZero() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	record, err := h.appointmentsService.Reschedule(c.Request.Context(), actor, c.Param("id"), request.StartsAt, request.EndsAt)
	if err != nil {
		h.respondServiceError(c, "appointments.reschedule", err)
		return
	}
	c.JSON(http.StatusOK, record)
}

type statusRequestPayload struct {
	Status string `json:"status"`
}

func (h *httpHandler) handleAppointmentStatus(c *gin.Context) {
	actor, ok := h.currentActor(c)
	if !ok {
		return
	}
	var request statusRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	status, err := appointments.ParseStatus(request.Status)
	if err != nil {
		h.respondServiceError(c, "appointments.set_status", err)
		return
	}
	record, err := h.appointmentsService.SetStatus(c.Request.Context(), actor, c.Param("id"), status)
	if err != nil {
		h.respondServiceError(c, "appointments.set_status", err)
		return
	}
	c.JSON(http.StatusOK, record)
}

type noteRequestPayload struct {
	Body string `json:"body"`
}

func (h *httpHandler) handleAppointmentNote(c *gin.Context) {
	actor, ok := h.currentActor(c)
	if !ok {
		return
	}
	var request noteRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	body, err := appointments.NewNoteBody(request.Body)
	if err != nil {
		h.respondServiceError(c, "appointments.add_note", err)
		return
	}
	note, err := h.appointmentsService.AddNote(c.Request.Context(), actor, c.Param("id"), body)
	if err != nil {
		h.respondServiceError(c, "appointments.add_note", err)
		return
	}
	c.JSON(http.StatusCreated, note)
}

func (h *httpHandler) authorize(allowQueryToken bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" && allowQueryToken {
			token = strings.TrimSpace(c.Query(accessTokenQueryParam))
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
			return
		}
		claims, err := h.tokens.ValidateToken(token)
		if err != nil {
			if errors.Is(err, auth.ErrExpiredSessionToken) {
				h.logger.Info("token validation failed", zap.Error(err))
			} else {
				h.logger.Warn("token validation failed", zap.Error(err))
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		account, err := h.accountsService.Resolve(c.Request.Context(), claims.Subject, claims.Email, claims.Name)
		if err != nil {
			h.logger.Error("account resolution failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "account_lookup_failed"})
			return
		}
		c.Set(accountContextKey, account)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func (h *httpHandler) currentAccount(c *gin.Context) (identity.Account, bool) {
	value, exists := c.Get(accountContextKey)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return identity.Account{}, false
	}
	account, ok := value.(identity.Account)
	if !ok || account.Subject == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return identity.Account{}, false
	}
	return account, true
}

func (h *httpHandler) currentOwner(c *gin.Context) (tasks.Subject, bool) {
	account, ok := h.currentAccount(c)
	if !ok {
		return "", false
	}
	owner, err := tasks.NewSubject(account.Subject)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	return owner, true
}

func (h *httpHandler) currentActor(c *gin.Context) (appointments.Actor, bool) {
	account, ok := h.currentAccount(c)
	if !ok {
		return appointments.Actor{}, false
	}
	return appointments.Actor{Subject: account.Subject, Admin: account.IsAdmin()}, true
}

func (h *httpHandler) publishTaskEvent(ownerID string, kind tasklist.EventKind, record tasks.Task) {
	h.realtime.Publish(RealtimeMessage{
		OwnerID: ownerID,
		Event:   tasklist.Event{Kind: kind, Task: record},
	})
}

func (h *httpHandler) respondServiceError(c *gin.Context, operation string, err error) {
	status, label := errorStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("operation", operation), zap.Error(err))
	}
	body := gin.H{"error": label}
	if code := serviceErrorCode(err); code != "" {
		body["code"] = code
	}
	c.JSON(status, body)
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, tasks.ErrEmptyText), errors.Is(err, tasks.ErrTextTooLong):
		return http.StatusBadRequest, "invalid_text"
	case errors.Is(err, tasks.ErrEmptyPatch):
		return http.StatusBadRequest, "empty_patch"
	case errors.Is(err, tasks.ErrOrderMismatch):
		return http.StatusBadRequest, "order_mismatch"
	case errors.Is(err, tasks.ErrTaskNotFound):
		return http.StatusNotFound, "task_not_found"
	case errors.Is(err, appointments.ErrEmptyTitle), errors.Is(err, appointments.ErrTitleTooLong):
		return http.StatusBadRequest, "invalid_title"
	case errors.Is(err, appointments.ErrInvalidInterval):
		return http.StatusBadRequest, "invalid_interval"
	case errors.Is(err, appointments.ErrInvalidStatus):
		return http.StatusBadRequest, "invalid_status"
	case errors.Is(err, appointments.ErrEmptyNote), errors.Is(err, appointments.ErrNoteTooLong):
		return http.StatusBadRequest, "invalid_note"
	case errors.Is(err, appointments.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, appointments.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, appointments.ErrAppointmentNotFound):
		return http.StatusNotFound, "appointment_not_found"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func serviceErrorCode(err error) string {
	var taskErr *tasks.ServiceError
	if errors.As(err, &taskErr) {
		return taskErr.Code()
	}
	var appointmentErr *appointments.ServiceError
	if errors.As(err, &appointmentErr) {
		return appointmentErr.Code()
	}
	return ""
}

func pathTaskID(c *gin.Context) (int64, bool) {
	taskID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_task_id"})
		return 0, false
	}
	return taskID, true
}
