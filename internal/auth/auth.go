package auth

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
	"golang.org/x/crypto/bcrypt"

	"livechat/internal/db"
	"livechat/internal/models"
)

const (
	tokenTTL          = 30 * 24 * time.Hour
	minPasswordLength = 6
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrWeakPassword       = fmt.Errorf("password must have at least %d characters", minPasswordLength)
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrInvalidToken       = errors.New("invalid token")
)

// UserStore is the part of the document store the identity provider needs.
type UserStore interface {
	CreateUser(user *models.User) (*models.User, error)
	GetUser(id string) (*models.User, error)
	FindUserByEmail(email string) (*models.User, error)
	UpdateProfile(id, name string, photo *string) (*models.User, error)
}

type Service struct {
	users  UserStore
	secret []byte
	now    func() time.Time
}

func NewService(users UserStore, secret string) *Service {
	return &Service{users: users, secret: []byte(secret), now: time.Now}
}

// NormalizeEmail trims and validates an address. The comparison stays exact
// after trimming.
func NormalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// SignUp creates the account and its profile.
func (s *Service) SignUp(email, password, name string, photo *string) (*models.User, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if len(password) < minPasswordLength {
		return nil, ErrWeakPassword
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = email
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := s.users.CreateUser(&models.User{
		Name:     name,
		Email:    email,
		Photo:    photo,
		Password: string(hashedPassword),
	})
	if errors.Is(err, db.ErrEmailTaken) {
		return nil, ErrEmailTaken
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// SignIn checks the credentials. A profile left without a display name is
// repaired with the email address.
func (s *Service) SignIn(email, password string) (*models.User, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	user, err := s.users.FindUserByEmail(email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	if strings.TrimSpace(user.Name) == "" {
		updated, err := s.users.UpdateProfile(user.ID, user.Email, nil)
		if err != nil {
			return nil, err
		}
		user = updated
	}
	return user, nil
}

// IssueToken signs a bearer token for API and websocket clients.
func (s *Service) IssueToken(userID string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"exp":     s.now().Add(tokenTTL).Unix(),
	})
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// ParseToken validates the signature and expiry and returns the user id.
func (s *Service) ParseToken(tokenString string) (string, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}

	exp, ok := claims["exp"].(float64)
	if !ok || int64(exp) < s.now().Unix() {
		return "", ErrInvalidToken
	}
	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return "", ErrInvalidToken
	}
	return userID, nil
}

// Authenticate resolves a token to the stored profile.
func (s *Service) Authenticate(tokenString string) (*models.User, error) {
	userID, err := s.ParseToken(tokenString)
	if err != nil {
		return nil, err
	}
	user, err := s.users.GetUser(userID)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return user, nil
}
