package handlers

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"nexora/internal/auth"
	"nexora/internal/data"
	"nexora/internal/forms"
	"nexora/internal/models"
	"nexora/internal/query"
	"nexora/internal/supabase"
)

// maxPostBody leaves room for the text fields next to a full-size image.
const maxPostBody = forms.MaxImageSize + 1<<20

func (h *Handler) communityOptions(r *http.Request) ([]models.Community, bool) {
	options, err := query.Fetch(r.Context(), h.cache, query.CommunityOptions(), query.Policy{}, h.store.FetchCommunityOptions)
	if err != nil {
		return nil, false
	}
	return options, true
}

func (h *Handler) postPage(r *http.Request, f *forms.PostForm) map[string]any {
	options, loaded := h.communityOptions(r)
	var communityID int64
	if f.CommunityID != nil {
		communityID = *f.CommunityID
	}
	page := map[string]any{
		"Title":            "Create Post",
		"Form":             f,
		"ImageMode":        string(f.Image().Mode()),
		"CommunityID":      communityID,
		"Communities":      options,
		"CommunitiesReady": loaded,
		"MaxTitle":         models.MaxTitleLen,
		"MaxContent":       models.MaxContentLen,
	}
	if img, ok := f.Image().(forms.URLImage); ok {
		page["ImageURL"] = img.URL
	}
	if err := f.Err(); err != nil {
		page["Error"] = err.Error()
	}
	return page
}

func (h *Handler) NewPost(w http.ResponseWriter, r *http.Request) {
	f := forms.NewPostForm(h.store, h.cache, h.log)
	if r.URL.Query().Get("image") == string(forms.ModeFile) {
		f.SetImageMode(forms.ModeFile)
	}
	h.render(w, r, http.StatusOK, "create_post", h.postPage(r, f))
}

// submitStatus maps a failed submission to the status of the re-rendered
// form. A backend that refused the row (constraint, policy) is the visitor's
// to fix; anything else is a gateway failure.
func submitStatus(err error) int {
	var vErr *forms.ValidationError
	if errors.As(err, &vErr) {
		if vErr.Field == "identity" {
			return http.StatusUnauthorized
		}
		return http.StatusUnprocessableEntity
	}
	if apiErr, ok := supabase.IsAPIError(err); ok {
		switch {
		case apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden:
			return http.StatusForbidden
		case apiErr.Status >= 400 && apiErr.Status < 500:
			return http.StatusUnprocessableEntity
		}
	}
	return http.StatusBadGateway
}

func (h *Handler) CreatePost(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxPostBody)
	f := forms.NewPostForm(h.store, h.cache, h.log)

	if err := r.ParseMultipartForm(maxPostBody); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			f.SetImageMode(forms.ModeFile)
			page := h.postPage(r, f)
			page["Error"] = "Image file size must be less than 5MB"
			h.render(w, r, http.StatusRequestEntityTooLarge, "create_post", page)
			return
		}
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	f.Title = r.FormValue("title")
	f.Content = r.FormValue("content")
	if id, err := strconv.ParseInt(r.FormValue("community_id"), 10, 64); err == nil && id > 0 {
		f.CommunityID = &id
	}

	// Switching the image mode re-renders the form with the typed fields
	// kept and any staged image dropped.
	if mode := r.FormValue("switch_image"); mode != "" {
		f.SetImageMode(forms.ImageMode(mode))
		h.render(w, r, http.StatusOK, "create_post", h.postPage(r, f))
		return
	}

	switch forms.ImageMode(r.FormValue("image_mode")) {
	case forms.ModeFile:
		f.SetImageMode(forms.ModeFile)
		file, header, err := r.FormFile("image_file")
		if err == nil {
			defer file.Close()
			if err := f.SelectFile(imageFile(file, header)); err != nil {
				h.render(w, r, http.StatusUnprocessableEntity, "create_post", h.postPage(r, f))
				return
			}
		}
	default:
		f.SetImageURL(r.FormValue("image_url"))
	}

	ac := auth.FromContext(r.Context())
	out, err := f.Submit(r.Context(), ac.Identity())
	if err != nil {
		h.log.Debug("create post rejected", zap.Error(err))
		h.render(w, r, submitStatus(err), "create_post", h.postPage(r, f))
		return
	}
	http.Redirect(w, r, out.Redirect, http.StatusSeeOther)
}

func imageFile(file multipart.File, header *multipart.FileHeader) *data.ImageFile {
	return &data.ImageFile{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	}
}

func (h *Handler) communityPage(f *forms.CommunityForm) map[string]any {
	page := map[string]any{
		"Title":          "Create Community",
		"Form":           f,
		"MaxName":        models.MaxNameLen,
		"MaxDescription": models.MaxDescriptionLen,
	}
	if err := f.Err(); err != nil {
		page["Error"] = err.Error()
	}
	return page
}

func (h *Handler) NewCommunity(w http.ResponseWriter, r *http.Request) {
	f := forms.NewCommunityForm(h.store, h.cache, h.log)
	h.render(w, r, http.StatusOK, "create_community", h.communityPage(f))
}

func (h *Handler) CreateCommunity(w http.ResponseWriter, r *http.Request) {
	f := forms.NewCommunityForm(h.store, h.cache, h.log)
	f.Name = r.FormValue("name")
	f.Description = r.FormValue("description")

	ac := auth.FromContext(r.Context())
	out, err := f.Submit(r.Context(), ac.Identity())
	if err != nil {
		h.log.Debug("create community rejected", zap.Error(err))
		h.render(w, r, submitStatus(err), "create_community", h.communityPage(f))
		return
	}
	http.Redirect(w, r, out.Redirect, http.StatusSeeOther)
}
