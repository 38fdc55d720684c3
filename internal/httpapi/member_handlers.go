package httpapi

import (
	"net/http"

	"easycore.dev/internal/auth"
)

type profileRequest struct {
	Name    *string `json:"name"`
	Surname *string `json:"surname"`
}

func (a *API) showProfile(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())
	u, err := a.accounts.Profile(r.Context(), id.UserID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeSuccess(w, r, http.StatusOK, "", toUserResponse(u))
}

func (a *API) updateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	id, _ := auth.IdentityFromContext(r.Context())
	u, err := a.accounts.UpdateProfile(r.Context(), id.UserID, auth.ProfileUpdate{
		Name:    req.Name,
		Surname: req.Surname,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeSuccess(w, r, http.StatusOK, "Profile updated successfully", toUserResponse(u))
}
