package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"pdv/backend/internal/catalog"
	"pdv/backend/internal/dashboard"
	"pdv/backend/internal/domain"
	"pdv/backend/internal/ledger"
	"pdv/backend/internal/media"
	"pdv/backend/internal/store"
)

func (a *API) handleFindProduct(w http.ResponseWriter, r *http.Request) {
	product, err := a.catalog.FindProduct(r.Context(), r.URL.Query().Get("query"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, product)
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page, err := a.catalog.ListProducts(
		r.Context(),
		query.Get("query"),
		parsePositiveLimit(query.Get("limit"), catalog.MaxListLimit),
		parseOffset(query.Get("offset")),
	)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, page)
}

func (a *API) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	product, err := a.catalog.GetProduct(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, product)
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductCreateRequest
	if err := a.decodeValid(r, &req); err != nil {
		a.writeServiceError(w, err)
		return
	}
	product, err := a.catalog.CreateProduct(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, product)
}

func (a *API) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	var req domain.ProductUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeServiceError(w, err)
		return
	}
	product, err := a.catalog.UpdateProduct(r.Context(), id, req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, product)
}

func (a *API) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	if err := a.catalog.DeleteProduct(r.Context(), id); err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handleListVariants(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	variants, err := a.catalog.ListVariants(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"items": variants})
}

func (a *API) handleUpsertVariant(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	var req domain.VariantUpsertRequest
	if err := a.decodeValid(r, &req); err != nil {
		a.writeServiceError(w, err)
		return
	}
	variant, err := a.catalog.UpsertVariant(r.Context(), id, req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, variant)
}

func (a *API) handleUploadProductImage(w http.ResponseWriter, r *http.Request) {
	if a.images == nil {
		a.writeError(w, http.StatusInternalServerError, errors.New("image storage is not configured"))
		return
	}

	// Leave room for the multipart envelope around the file.
	r.Body = http.MaxBytesReader(w, r.Body, media.MaxImageBytes+64<<10)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.writeServiceError(w, media.ErrTooLarge)
			return
		}
		a.writeServiceError(w, fmt.Errorf("%w: multipart field \"file\" is required", store.ErrInvalid))
		return
	}
	defer file.Close()

	url, err := a.images.Save(header.Filename, file)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, map[string]any{"url": url})
}

func (a *API) handleRecordSale(w http.ResponseWriter, r *http.Request) {
	// Cart lines arrive as the POS holds them, with catalog fields such as id
	// and image_url that a sale does not keep, so unknown fields are allowed.
	var req domain.SaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeServiceError(w, decodeError(err))
		return
	}
	if err := validateStruct(&req); err != nil {
		a.writeServiceError(w, err)
		return
	}

	sale, err := a.ledger.RecordSale(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, sale)
}

func (a *API) handleListSales(w http.ResponseWriter, r *http.Request) {
	sales, err := a.ledger.ListSales(r.Context(), parsePositiveLimit(r.URL.Query().Get("limit"), ledger.MaxSalesLimit))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"items": sales})
}

func (a *API) handleListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := a.ledger.ListClients(r.Context(), parsePositiveLimit(r.URL.Query().Get("limit"), ledger.MaxClientsLimit))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"items": clients})
}

func (a *API) handleDashboardSummary(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	summary, err := a.dashboard.Summary(r.Context(), query.Get("start"), query.Get("end"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleLatestSales(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	sales, err := a.dashboard.LatestSales(r.Context(), query.Get("start"), query.Get("end"),
		parsePositiveLimit(query.Get("limit"), dashboard.MaxLatestLimit))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"items": sales})
}

func (a *API) handleTopProducts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	top, err := a.dashboard.TopProducts(r.Context(), query.Get("start"), query.Get("end"),
		parsePositiveLimit(query.Get("limit"), dashboard.MaxTopLimit))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"items": top})
}

func (a *API) handleExportSalesCSV(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	period, err := a.dashboard.Period(query.Get("start"), query.Get("end"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	// Buffer the export so a failed query still gets a JSON error response.
	var buf bytes.Buffer
	if err := a.dashboard.ExportSalesCSV(r.Context(), query.Get("start"), query.Get("end"), &buf); err != nil {
		a.writeServiceError(w, err)
		return
	}

	filename := fmt.Sprintf("vendas_%s_%s.csv", period.StartDate(), period.EndDate())
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.auth.ListUsers(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"items": users})
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req domain.UserCreateRequest
	if err := a.decodeValid(r, &req); err != nil {
		a.writeServiceError(w, err)
		return
	}
	user, err := a.auth.CreateUser(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.logger.Info("user created", zap.String("username", user.Username), zap.String("role", string(user.Role)))
	a.writeJSON(w, http.StatusCreated, user)
}

func (a *API) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	var req domain.UserUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeServiceError(w, err)
		return
	}
	user, err := a.auth.UpdateUser(r.Context(), id, req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, user)
}

func (a *API) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	caller, _ := currentUser(r.Context())
	if err := a.auth.DeleteUser(r.Context(), caller, id); err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.logger.Info("user deleted", zap.Int64("id", id), zap.String("by", caller.Username))
	a.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
