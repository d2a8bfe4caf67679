package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"groupchat-server/core"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/render"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// AppClaims represents the custom claims for the JWT.
type AppClaims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
}

// UserID is the subject of the token.
func (c *AppClaims) UserID() string {
	return c.Subject
}

type Issuer struct {
	secret     []byte
	ttl        time.Duration
	configured bool
}

// NewIssuer signs tokens with secret. An empty secret is replaced by a random
// one so a development server still works, but tokens then die with the
// process and sockets may identify themselves without one.
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	i := &Issuer{secret: []byte(secret), ttl: ttl, configured: secret != ""}
	if !i.configured {
		logrus.Warn("JWT_SECRET not set, using an ephemeral signing key")
		i.secret = make([]byte, 32)
		if _, err := rand.Read(i.secret); err != nil {
			logrus.WithError(err).Fatal("failed to generate signing key")
		}
	}
	return i
}

// Configured reports whether a persistent secret was supplied.
func (i *Issuer) Configured() bool {
	return i.configured
}

func (i *Issuer) Issue(user *core.User) (string, error) {
	now := time.Now()
	claims := AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Username: user.Username,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

func (i *Issuer) Parse(tokenString string) (*AppClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AppClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*AppClaims); ok && token.Valid && claims.Subject != "" {
		return claims, nil
	}
	return nil, fmt.Errorf("invalid token")
}

type credentials struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	ProfilePic string `json:"profile_pic,omitempty"`
}

type tokenResponse struct {
	Token string     `json:"token"`
	User  *core.User `json:"user"`
}

func (c *credentials) Bind(r *http.Request) error {
	c.Username = strings.TrimSpace(c.Username)
	if c.Username == "" || c.Password == "" {
		return errors.New("username and password are required")
	}
	return nil
}

func HandleRegister(users core.UserStore, issuer *Issuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req credentials
		if err := render.Bind(r, &req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": err.Error()})
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			logrus.WithError(err).Error("failed to hash password")
			http.Error(w, "Failed to register", http.StatusInternalServerError)
			return
		}

		user := &core.User{Username: req.Username, PasswordHash: string(hash), ProfilePic: req.ProfilePic}
		id, err := users.CreateUser(r.Context(), user)
		if err != nil {
			if errors.Is(err, core.ErrConflict) {
				render.Status(r, http.StatusConflict)
				render.JSON(w, r, map[string]string{"error": "Username already taken"})
				return
			}
			logrus.WithError(err).Error("failed to create user")
			http.Error(w, "Failed to register", http.StatusInternalServerError)
			return
		}

		created, err := users.GetUser(r.Context(), id)
		if err != nil {
			http.Error(w, "Failed to register", http.StatusInternalServerError)
			return
		}
		respondWithToken(w, r, issuer, created, http.StatusCreated)
	}
}

func HandleLogin(users core.UserStore, issuer *Issuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req credentials
		if err := render.Bind(r, &req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": err.Error()})
			return
		}

		user, err := users.GetUserByUsername(r.Context(), req.Username)
		if err == nil {
			err = bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password))
		}
		if err != nil {
			logrus.WithField("username", req.Username).Debug("login rejected")
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "Invalid username or password"})
			return
		}

		respondWithToken(w, r, issuer, user, http.StatusOK)
	}
}

func respondWithToken(w http.ResponseWriter, r *http.Request, issuer *Issuer, user *core.User, status int) {
	token, err := issuer.Issue(user)
	if err != nil {
		logrus.Errorf("failed to create JWT: %s", err.Error())
		http.Error(w, "Failed to create token", http.StatusInternalServerError)
		return
	}
	render.Status(r, status)
	render.JSON(w, r, tokenResponse{Token: token, User: user})
}
