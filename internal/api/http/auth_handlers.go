package httpapi

import (
	"net/http"
	"time"

	appAuth "github.com/swapshelf/swapshelf/internal/application/auth"
	appParticipant "github.com/swapshelf/swapshelf/internal/application/participant"
)

type registerRequest struct {
	Username string `json:"username" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Participant interface{} `json:"participant"`
	Token       string      `json:"token"`
	ExpiresAt   string      `json:"expiresAt"`
}

func newLoginResponse(res *appAuth.LoginResult) loginResponse {
	return loginResponse{
		Participant: res.Participant,
		Token:       res.Token,
		ExpiresAt:   res.ExpiresAt.Format(time.RFC3339),
	}
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, err)
		return
	}
	res, err := s.authSvc.Register(r.Context(), appAuth.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, newLoginResponse(res))
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, err)
		return
	}
	res, err := s.authSvc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, newLoginResponse(res))
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	auth, ok := mustAuth(w, r)
	if !ok {
		return
	}
	p, err := s.participantSvc.Me(r.Context(), auth.ParticipantID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

type updateProfileRequest struct {
	ContactInfo *string `json:"contactInfo" validate:"omitempty,max=200"`
	Bio         *string `json:"bio"`
	AvatarURL   *string `json:"avatarUrl" validate:"omitempty,url"`
}

func (s *Server) updateMe(w http.ResponseWriter, r *http.Request) {
	auth, ok := mustAuth(w, r)
	if !ok {
		return
	}
	var req updateProfileRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, err)
		return
	}
	p, err := s.participantSvc.UpdateProfile(r.Context(), auth.ParticipantID, appParticipant.ProfileInput{
		ContactInfo: req.ContactInfo,
		Bio:         req.Bio,
		AvatarURL:   req.AvatarURL,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "participantId")
	if err != nil {
		respondError(w, err)
		return
	}
	profile, err := s.participantSvc.PublicProfile(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, profile)
}
