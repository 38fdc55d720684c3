package httpapi

import (
	"net/http"
	"strconv"

	"easycore.dev/internal/auth"
	"easycore.dev/internal/todo"
)

type createTodoRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Completed   bool   `json:"completed"`
}

type updateTodoRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Completed   *bool   `json:"completed"`
}

func (a *API) listTodos(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())
	items, err := a.todos.List(r.Context(), id.UserID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if items == nil {
		items = []todo.Todo{}
	}
	writeSuccess(w, r, http.StatusOK, "", items)
}

func (a *API) createTodo(w http.ResponseWriter, r *http.Request) {
	var req createTodoRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	id, _ := auth.IdentityFromContext(r.Context())
	t, err := a.todos.Create(r.Context(), id.UserID, todo.Draft{
		Title:       req.Title,
		Description: req.Description,
		Completed:   req.Completed,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeSuccess(w, r, http.StatusCreated, "Todo created successfully", t)
}

func (a *API) showTodo(w http.ResponseWriter, r *http.Request) {
	todoID, ok := pathID(r)
	if !ok {
		writeError(w, r, http.StatusNotFound, "Todo not found")
		return
	}
	id, _ := auth.IdentityFromContext(r.Context())
	t, err := a.todos.Get(r.Context(), id.UserID, todoID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeSuccess(w, r, http.StatusOK, "", t)
}

func (a *API) updateTodo(w http.ResponseWriter, r *http.Request) {
	todoID, ok := pathID(r)
	if !ok {
		writeError(w, r, http.StatusNotFound, "Todo not found")
		return
	}
	var req updateTodoRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	id, _ := auth.IdentityFromContext(r.Context())
	t, err := a.todos.Update(r.Context(), id.UserID, todoID, todo.Patch{
		Title:       req.Title,
		Description: req.Description,
		Completed:   req.Completed,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeSuccess(w, r, http.StatusOK, "Todo updated successfully", t)
}

func (a *API) deleteTodo(w http.ResponseWriter, r *http.Request) {
	todoID, ok := pathID(r)
	if !ok {
		writeError(w, r, http.StatusNotFound, "Todo not found")
		return
	}
	id, _ := auth.IdentityFromContext(r.Context())
	if err := a.todos.Delete(r.Context(), id.UserID, todoID); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeSuccess(w, r, http.StatusOK, "Todo deleted successfully", nil)
}

func pathID(r *http.Request) (int64, bool) {
	v, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}
