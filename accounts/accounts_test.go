package accounts_test

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"testing"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/goliatone/go-router"
	session "github.com/goliatone/go-session"
	"github.com/goliatone/go-session/accounts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

type testPersistenceConfig struct {
	server string
}

func (c testPersistenceConfig) GetDebug() bool                { return false }
func (c testPersistenceConfig) GetDriver() string             { return sqliteshim.ShimName }
func (c testPersistenceConfig) GetServer() string             { return c.server }
func (c testPersistenceConfig) GetPingTimeout() time.Duration { return time.Second }
func (c testPersistenceConfig) GetOtelIdentifier() string     { return "accounts-tests" }

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:accounts-test-%d?mode=memory&cache=shared", time.Now().UnixNano())
	sqlDB, err := sql.Open(sqliteshim.ShimName, dsn)
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	client, err := persistence.New(testPersistenceConfig{server: dsn}, sqlDB, sqlitedialect.New())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	migrations, err := accounts.MigrationsFor(accounts.DialectSQLite)
	require.NoError(t, err)
	client.RegisterSQLMigrations(migrations)
	require.NoError(t, client.Migrate(context.Background()))

	return client.DB()
}

func newService(t *testing.T) *accounts.Service {
	t.Helper()
	db := newTestDB(t)
	return accounts.NewService(db, accounts.NewUsersRepository(db))
}

var ada = session.AccountRecord{
	Name:  "Ada Lovelace",
	Email: "Ada@Example.com",
	Role:  session.DefaultAccountRole,
}

func TestServiceCreate(t *testing.T) {
	svc := newService(t)

	user, err := svc.Create(context.Background(), ada)
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "ada@example.com", user.Email)
	assert.Equal(t, "student", user.Role)

	found, err := svc.Get(context.Background(), "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)
	assert.Equal(t, session.AccountRecord{
		Name:  "Ada Lovelace",
		Email: "ada@example.com",
		Role:  "student",
	}, found.Record())
}

func TestServiceCreateDuplicateIsConflict(t *testing.T) {
	svc := newService(t)

	_, err := svc.Create(context.Background(), ada)
	require.NoError(t, err)

	renamed := ada
	renamed.Name = "Someone Else"
	_, err = svc.Create(context.Background(), renamed)
	require.Error(t, err)
	assert.True(t, accounts.IsConflict(err))

	found, err := svc.Get(context.Background(), ada.Email)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", found.Name)
}

func TestServiceGetMissing(t *testing.T) {
	svc := newService(t)

	_, err := svc.Get(context.Background(), "nobody@example.com")
	require.Error(t, err)
}

func TestCreatePayloadDefaults(t *testing.T) {
	payload := accounts.CreatePayload{Name: " Grace ", Email: " Grace@Example.com "}
	require.NoError(t, payload.Validate())
	assert.Equal(t, session.AccountRecord{
		Name:  "Grace",
		Email: "grace@example.com",
		Role:  session.DefaultAccountRole,
	}, payload.Record())

	err := accounts.CreatePayload{Email: "nope"}.Validate()
	require.Error(t, err)
	assert.True(t, session.IsValidationError(err))
}

func bindPayload(ctx *router.MockContext, payload accounts.CreatePayload) {
	ctx.On("Bind", mock.Anything).Run(func(args mock.Arguments) {
		*(args.Get(0).(*accounts.CreatePayload)) = payload
	}).Return(nil)
}

func TestControllerCreate(t *testing.T) {
	controller := accounts.NewController(newService(t))
	payload := accounts.CreatePayload{Name: "Ada", Email: "ada@example.com"}

	ctx := router.NewMockContext()
	ctx.On("Context").Return(context.Background())
	bindPayload(ctx, payload)

	var body map[string]any
	ctx.On("JSON", http.StatusCreated, mock.Anything).Run(func(args mock.Arguments) {
		body = args.Get(1).(map[string]any)
	}).Return(nil)

	require.NoError(t, controller.Create(ctx))
	assert.NotEmpty(t, body["insertedId"])

	dup := router.NewMockContext()
	dup.On("Context").Return(context.Background())
	bindPayload(dup, payload)

	var conflict map[string]any
	dup.On("JSON", http.StatusConflict, mock.Anything).Run(func(args mock.Arguments) {
		conflict = args.Get(1).(map[string]any)
	}).Return(nil)

	require.NoError(t, controller.Create(dup))
	assert.Equal(t, "User already exists", conflict["message"])
}

func TestControllerCreateRejectsInvalidPayload(t *testing.T) {
	controller := accounts.NewController(newService(t))

	ctx := router.NewMockContext()
	ctx.On("Context").Return(context.Background())
	bindPayload(ctx, accounts.CreatePayload{Email: "not-an-email"})

	var body map[string]any
	ctx.On("JSON", http.StatusBadRequest, mock.Anything).Run(func(args mock.Arguments) {
		body = args.Get(1).(map[string]any)
	}).Return(nil)

	require.NoError(t, controller.Create(ctx))
	assert.Equal(t, session.TextCodeValidation, body["code"])
	assert.Contains(t, body["fields"], "email")
}
