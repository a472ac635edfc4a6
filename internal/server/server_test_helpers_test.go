package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/quayside/daybook/internal/appointments"
	"github.com/quayside/daybook/internal/auth"
	"github.com/quayside/daybook/internal/identity"
	"github.com/quayside/daybook/internal/tasks"
)

type stubVerifier struct {
	claims auth.IdentityClaims
	err    error
}

func (v stubVerifier) Verify(context.Context, string) (auth.IdentityClaims, error) {
	return v.claims, v.err
}

type routerFixture struct {
	handler    http.Handler
	issuer     *auth.TokenIssuer
	dispatcher *RealtimeDispatcher
	deps       Dependencies
	db         *gorm.DB
}

func newRouterFixture(t *testing.T, verifier IdentityVerifier, adminSubjects []string) *routerFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:daybook_server_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&tasks.Task{}, &appointments.Appointment{}, &appointments.AppointmentNote{}, &identity.Account{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	tasksService, err := tasks.NewService(tasks.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct task service: %v", err)
	}
	appointmentsService, err := appointments.NewService(appointments.ServiceConfig{
		Database:   db,
		IDProvider: appointments.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to construct appointment service: %v", err)
	}
	accountsService, err := identity.NewService(identity.ServiceConfig{
		Database:      db,
		AdminSubjects: adminSubjects,
	})
	if err != nil {
		t.Fatalf("failed to construct identity service: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("server-test-secret"),
		Issuer:        "daybook-auth",
		Audience:      "daybook-api",
		TokenTTL:      time.Minute,
	})
	if err != nil {
		t.Fatalf("failed to construct token issuer: %v", err)
	}

	dispatcher := NewRealtimeDispatcher()
	deps := Dependencies{
		IdentityVerifier:    verifier,
		TokenManager:        issuer,
		AccountsService:     accountsService,
		TasksService:        tasksService,
		AppointmentsService: appointmentsService,
		Realtime:            dispatcher,
		Logger:              zap.NewNop(),
	}
	handler, err := NewHTTPHandler(deps)
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	return &routerFixture{
		handler:    handler,
		issuer:     issuer,
		dispatcher: dispatcher,
		deps:       deps,
		db:         db,
	}
}

func (f *routerFixture) token(t *testing.T, subject string) string {
	t.Helper()
	token, _, err := f.issuer.IssueSessionToken(context.Background(), auth.IdentityClaims{
		Subject: subject,
		Email:   subject + "@example.com",
		Name:    "Fixture User",
	})
	if err != nil {
		t.Fatalf("failed to issue session token: %v", err)
	}
	return token
}

func (f *routerFixture) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	request := httptest.NewRequest(method, path, reader)
	if body != "" {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, request)
	return recorder
}
