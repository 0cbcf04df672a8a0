/*
Package handler provides HTTP handler functions for user authentication and the user directory.
*/
package handler

import (
	"errors"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"messenger/internal/app/user"
	"messenger/internal/pkg/auth/jwt"
	"messenger/internal/pkg/errs"
	"messenger/internal/pkg/logx"
	"messenger/internal/pkg/req"
	"messenger/internal/pkg/resp"
	"messenger/internal/server/store"
)

type CredentialsInput struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// CredentialsOutput is returned by register and login.
type CredentialsOutput struct {
	Token    string `json:"token"`
	Username string `json:"username"`
}

// HandleRegister processes the request to create a new user account with only username and password.
func HandleRegister(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if payload := jwt.GetPayloadFromContext(r); payload != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrAlreadyLoggedIn))
			return
		}

		var input CredentialsInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		if !user.ValidUsername(input.Username) {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidUsername))
			return
		}

		if !user.ValidPassword(input.Password) {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidPassword))
			return
		}

		hashedPassword, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
		if err != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown, err))
			return
		}

		if err := deps.Store.CreateUser(r.Context(), input.Username, string(hashedPassword)); err != nil {
			if errors.Is(err, store.ErrUserExists) {
				logx.Warn("registration conflict: username already exists", "username", input.Username)
				resp.RespondError(w, r, errs.NewError(errs.ErrUserAlreadyExists))
				return
			}

			logx.Error(err, "failed to create user")
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		respondCredentials(w, r, deps, input.Username)
	}
}

// HandleLogin verifies user credentials and issues a JWT token.
func HandleLogin(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if identity := jwt.GetPayloadFromContext(r); identity != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrAlreadyLoggedIn))
			return
		}

		var input CredentialsInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		if input.Username == "" || input.Password == "" {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		hash, err := deps.Store.PasswordHash(r.Context(), input.Username)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				logx.Error(err, "login: user fetch failed", "username", input.Username)
			}
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidCredentials))
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(input.Password)); err != nil {
			logx.Warn("login: password mismatch", "username", input.Username)
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidCredentials))
			return
		}

		respondCredentials(w, r, deps, input.Username)
	}
}

func respondCredentials(w http.ResponseWriter, r *http.Request, deps *AppDeps, username string) {
	token, err := jwt.GenerateToken(&jwt.Payload{Username: username}, deps.Config.JWTSecret, jwt.UserIdentityExpiration)
	if err != nil {
		logx.Error(err, "jwt generation failed", "username", username)
		resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
		return
	}

	resp.RespondSuccess(w, r, CredentialsOutput{Token: token, Username: username})
}

// HandleListUsers returns every registered user with presence.
func HandleListUsers(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		names, err := deps.Store.Usernames(r.Context())
		if err != nil {
			logx.Error(err, "list users failed")
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		users := make([]user.User, 0, len(names))
		for _, name := range names {
			users = append(users, user.User{Username: name, Online: deps.Hub.IsOnline(name)})
		}

		resp.RespondSuccess(w, r, users)
	}
}
