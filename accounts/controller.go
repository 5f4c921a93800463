package accounts

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	session "github.com/goliatone/go-session"
)

// Controller serves the application database write endpoint.
type Controller struct {
	service *Service
	debug   bool
	logger  session.Logger
}

// NewController exposes service over HTTP.
func NewController(service *Service, opts ...Option) *Controller {
	o := buildOptions(opts...)
	_, logger := session.ResolveLogger("accounts.http", o.loggerProvider, o.logger)
	return &Controller{
		service: service,
		debug:   o.debug,
		logger:  logger,
	}
}

// RegisterRoutes mounts POST /users and GET /users/:email.
func RegisterRoutes[T any](app router.Router[T], controller *Controller) {
	app.Post("/users", controller.Create).SetName("users.create")
	app.Get("/users/:email", controller.Show).SetName("users.show")
}

// Create answers 201 with the stored user, or 409 with
// {"message":"User already exists"} for duplicates.
func (c *Controller) Create(ctx router.Context) error {
	payload := new(CreatePayload)
	if err := ctx.Bind(payload); err != nil {
		c.logger.Warn("create user: bind payload", "error", err)
		return ctx.JSON(http.StatusBadRequest, map[string]any{
			"message": "Failed to parse body",
		})
	}

	if c.debug {
		c.logger.Debug("create user payload", "payload", print.MaybePrettyJSON(payload))
	}

	if err := payload.Validate(); err != nil {
		return ctx.JSON(http.StatusBadRequest, errorBody(err))
	}

	user, err := c.service.Create(ctx.Context(), payload.Record())
	if err != nil {
		if IsConflict(err) {
			return ctx.JSON(http.StatusConflict, map[string]any{
				"message": ConflictMessage,
			})
		}
		return ctx.JSON(statusFor(err), errorBody(err))
	}

	return ctx.JSON(http.StatusCreated, map[string]any{
		"insertedId": user.ID.String(),
		"user":       user,
	})
}

// Show returns the user stored under the :email param.
func (c *Controller) Show(ctx router.Context) error {
	user, err := c.service.Get(ctx.Context(), ctx.Param("email"))
	if err != nil {
		return ctx.JSON(statusFor(err), errorBody(err))
	}
	return ctx.JSON(http.StatusOK, user)
}

func statusFor(err error) int {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.Code >= 400 {
		return richErr.Code
	}
	return http.StatusInternalServerError
}

func errorBody(err error) map[string]any {
	body := map[string]any{"message": err.Error()}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		body["message"] = richErr.Message
		if richErr.TextCode != "" {
			body["code"] = richErr.TextCode
		}
		if verrs := richErr.AllValidationErrors(); len(verrs) > 0 {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Field] = fe.Message
			}
			body["fields"] = fields
		}
	}
	return body
}
