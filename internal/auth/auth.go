package auth

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"golang.org/x/crypto/bcrypt"

	"github.com/Lomkaaa/M-Store-server/internal/auth/config"
	"github.com/Lomkaaa/M-Store-server/internal/store"
	"github.com/Lomkaaa/M-Store-server/internal/token"
)

type Auth interface {
	Register(w http.ResponseWriter, r *http.Request)
	Login(w http.ResponseWriter, r *http.Request)
	Middleware(h http.HandlerFunc) http.HandlerFunc
}

const (
	UserCodeKey     = "userCode"
	UserRoleKey     = "userRole"
	cookieUserToken = "mstoreUserToken"
)

type auth struct {
	cfg   config.Config
	store store.Store
}

func NewAuth(cfg config.Config, store store.Store) Auth {
	return &auth{cfg: cfg, store: store}
}

type credentialsJSONRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

func (a *auth) Register(w http.ResponseWriter, r *http.Request) {
	creds, err := readCredentials(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), bcrypt.DefaultCost)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	userID, err := a.store.AuthRegister(r.Context(), creds.Login, string(hash))
	if err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	a.writeToken(w, userID, "")
}

func (a *auth) Login(w http.ResponseWriter, r *http.Request) {
	creds, err := readCredentials(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	userID, passwordHash, err := a.store.AuthLogin(r.Context(), creds.Login)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			http.Error(w, "wrong login/password", http.StatusUnauthorized)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(creds.Password)) != nil {
		http.Error(w, "wrong login/password", http.StatusUnauthorized)
		return
	}

	user, err := a.store.UserGet(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	a.writeToken(w, userID, user.Role)
}

func readCredentials(r *http.Request) (credentialsJSONRequest, error) {
	var buf bytes.Buffer
	_, err := buf.ReadFrom(r.Body)
	if err != nil {
		return credentialsJSONRequest{}, err
	}

	var creds credentialsJSONRequest
	err = json.Unmarshal(buf.Bytes(), &creds)
	if err != nil {
		return credentialsJSONRequest{}, err
	}
	if creds.Login == "" || creds.Password == "" {
		return credentialsJSONRequest{}, errors.New("login and password are required")
	}
	return creds, nil
}

func (a *auth) writeToken(w http.ResponseWriter, userID int, role string) {
	tokenString, err := token.BuildJWTString(strconv.Itoa(userID), role, a.cfg.JWTSecret)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:  cookieUserToken,
		Value: tokenString,
		Path:  "/",
	})
	w.Header().Set("Authorization", "Bearer "+tokenString)
	w.WriteHeader(http.StatusOK)
}

func (a *auth) Middleware(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// получение id пользователя
		userCode, role, err := a.getUserCode(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}

		// записываем
		r.Header.Set(UserCodeKey, userCode)
		r.Header.Set(UserRoleKey, role)

		// передаём управление хендлеру
		h.ServeHTTP(w, r)
	}
}

func (a *auth) getUserCode(r *http.Request) (string, string, error) {
	tokenString := bearerToken(r)
	if tokenString == "" {
		// куки пользователя
		tokenCookie, err := r.Cookie(cookieUserToken)
		if err != nil {
			return "", "", err
		}
		tokenString = tokenCookie.Value
	}

	return token.GetUserCode(tokenString, a.cfg.JWTSecret)
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}
