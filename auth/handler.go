package auth

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/Deepa2410-ux/OneCard-SmartAssist/types"
)

const userIDKey = "auth.userID"

type handler struct {
	store  UserStore
	tokens *TokenIssuer
	logger *slog.Logger
	now    func() time.Time
}

// NewRouter returns a sub-app meant to be mounted under /auth.
func NewRouter(store UserStore, tokens *TokenIssuer, logger *slog.Logger) (*fiber.App, error) {
	if store == nil {
		return nil, errors.New("auth: user store is required")
	}
	if tokens == nil {
		return nil, errors.New("auth: token issuer is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{store: store, tokens: tokens, logger: logger, now: time.Now}

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Post("/register", h.register)
	app.Post("/login", h.login)
	app.Get("/me", h.requireToken, h.me)
	return app, nil
}

func (h *handler) register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "INVALID_INPUT", "invalid JSON")
	}
	req.normalize()
	if msg := req.validate(); msg != "" {
		return fail(c, fiber.StatusBadRequest, "INVALID_INPUT", msg)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.PIN), bcrypt.DefaultCost)
	if err != nil {
		h.logger.Error("pin hash failed", "err", err)
		return fail(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "could not register")
	}
	u := User{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Phone:     req.Phone,
		Email:     req.Email,
		CardLast4: req.CardLast4,
		PINHash:   hash,
		CreatedAt: h.now().UTC(),
	}
	if err := h.store.Create(c.UserContext(), u); err != nil {
		if errors.Is(err, ErrUserExists) {
			return fail(c, fiber.StatusConflict, "CONFLICT", "this mobile number is already registered")
		}
		h.logger.Error("user create failed", "err", err)
		return fail(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "could not register")
	}
	h.logger.Info("user registered", "user_id", u.ID)
	return c.Status(fiber.StatusCreated).JSON(u)
}

func (h *handler) login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "INVALID_INPUT", "invalid JSON")
	}
	req.Phone = strings.TrimSpace(req.Phone)
	if !digits(req.Phone, 10) || !digits(req.PIN, 6) {
		return fail(c, fiber.StatusBadRequest, "INVALID_INPUT", "enter a 10-digit mobile number and 6-digit pin")
	}

	u, err := h.store.ByPhone(c.UserContext(), req.Phone)
	switch {
	case errors.Is(err, ErrUserNotFound):
		return fail(c, fiber.StatusUnauthorized, "UNAUTHORIZED", "invalid mobile number or pin")
	case err != nil:
		h.logger.Error("user lookup failed", "err", err)
		return fail(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "could not log in")
	}
	if bcrypt.CompareHashAndPassword(u.PINHash, []byte(req.PIN)) != nil {
		return fail(c, fiber.StatusUnauthorized, "UNAUTHORIZED", "invalid mobile number or pin")
	}

	token, err := h.tokens.Issue(u.ID)
	if err != nil {
		h.logger.Error("token issue failed", "err", err)
		return fail(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "could not log in")
	}
	return c.JSON(loginResponse{Token: token, User: u})
}

func (h *handler) requireToken(c *fiber.Ctx) error {
	header := c.Get(fiber.HeaderAuthorization)
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return fail(c, fiber.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token")
	}
	userID, err := h.tokens.Parse(token)
	if err != nil {
		h.logger.Debug("token rejected", "err", err)
		return fail(c, fiber.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token")
	}
	c.Locals(userIDKey, userID)
	return c.Next()
}

func (h *handler) me(c *fiber.Ctx) error {
	userID, _ := c.Locals(userIDKey).(string)
	u, err := h.store.ByID(c.UserContext(), userID)
	switch {
	case errors.Is(err, ErrUserNotFound):
		return fail(c, fiber.StatusUnauthorized, "UNAUTHORIZED", "user no longer exists")
	case err != nil:
		h.logger.Error("user lookup failed", "err", err)
		return fail(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "could not load user")
	}
	return c.JSON(u)
}

func fail(c *fiber.Ctx, status int, code, msg string) error {
	return c.Status(status).JSON(types.ErrorResponse{Error: code, Message: msg})
}
