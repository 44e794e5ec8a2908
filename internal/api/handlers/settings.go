package handlers

import (
	"net/http"

	"github.com/stay-ledger/backend/internal/storage"
)

// SettingsResponse represents settings in API responses.
type SettingsResponse struct {
	CheckinTime  string `json:"checkInTime" validate:"omitempty,datetime=15:04"`
	CheckoutTime string `json:"checkOutTime" validate:"omitempty,datetime=15:04"`
}

// GetSettings returns the property defaults.
func GetSettings(settings *storage.SettingsRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		all, err := settings.All(r.Context())
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, SettingsResponse{
			CheckinTime:  all[storage.SettingCheckinTime],
			CheckoutTime: all[storage.SettingCheckoutTime],
		})
	}
}

// UpdateSettings updates the property defaults. Empty fields are left as is.
func UpdateSettings(settings *storage.SettingsRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SettingsResponse
		if !decodeValid(w, r, &req) {
			return
		}

		err := settings.Set(r.Context(), map[string]string{
			storage.SettingCheckinTime:  req.CheckinTime,
			storage.SettingCheckoutTime: req.CheckoutTime,
		})
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		GetSettings(settings)(w, r)
	}
}
