// Package githubtest provides an in-process fake of the GitHub endpoints
// linkstash talks to, for use in tests.
package githubtest

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
)

// Request is one call observed by the fake.
type Request struct {
	Method string
	Path   string
	Auth   string
	Body   []byte
}

// File is a stored repository file.
type File struct {
	SHA     string
	Content []byte
}

// Server fakes the REST API and the OAuth endpoints on one listener.
// Mutate fields only through the helper methods once requests are in flight.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	users    map[string]string // token -> login
	repos    map[string]bool   // owner/repo
	files    map[string]File   // owner/repo/path
	codes    map[string]string // web flow code -> token
	statuses map[string]int    // "METHOD /path" -> forced status
	requests []Request

	device        map[string]interface{}
	pollResponses []map[string]interface{}
	polls         int
}

// NewServer starts a fake with no users, repositories or files.
func NewServer() *Server {
	s := &Server{
		users:    make(map[string]string),
		repos:    make(map[string]bool),
		files:    make(map[string]File),
		codes:    make(map[string]string),
		statuses: make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// AddUser makes token authenticate as login.
func (s *Server) AddUser(token, login string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[token] = login
}

// AddRepo marks owner/repo as existing.
func (s *Server) AddRepo(owner, repo string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repos[owner+"/"+repo] = true
}

// HasRepo reports whether owner/repo exists.
func (s *Server) HasRepo(owner, repo string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repos[owner+"/"+repo]
}

// PutFile stores content at owner/repo/path and returns its SHA.
func (s *Server) PutFile(owner, repo, path string, content []byte) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	sha := blobSHA(content)
	s.files[owner+"/"+repo+"/"+path] = File{SHA: sha, Content: content}
	return sha
}

// GetFile returns the stored file.
func (s *Server) GetFile(owner, repo, path string) (File, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[owner+"/"+repo+"/"+path]
	return f, ok
}

// AddCode makes the web-flow code exchange return token.
func (s *Server) AddCode(code, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[code] = token
}

// ForceStatus makes every "METHOD path" request answer with status.
func (s *Server) ForceStatus(method, path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[method+" "+path] = status
}

// SetDeviceCode sets the /login/device/code response body.
func (s *Server) SetDeviceCode(resp map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.device = resp
}

// SetPollResponses scripts device-flow token polls. The last response repeats.
func (s *Server) SetPollResponses(responses ...map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pollResponses = responses
	s.polls = 0
}

// Polls returns how many device-flow token polls were received.
func (s *Server) Polls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls
}

// Requests returns a copy of the observed calls.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Count returns how many calls matched method and path.
func (s *Server) Count(method, path string) int {
	n := 0
	for _, r := range s.Requests() {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	s.requests = append(s.requests, Request{
		Method: r.Method,
		Path:   r.URL.Path,
		Auth:   r.Header.Get("Authorization"),
		Body:   body,
	})
	forced, isForced := s.statuses[r.Method+" "+r.URL.Path]
	s.mu.Unlock()

	if isForced {
		writeJSON(w, forced, map[string]string{"message": http.StatusText(forced)})
		return
	}

	switch {
	case r.URL.Path == "/login/device/code" && r.Method == http.MethodPost:
		s.handleDeviceCode(w)
		return
	case r.URL.Path == "/login/oauth/access_token" && r.Method == http.MethodPost:
		s.handleAccessToken(w, r, body)
		return
	}

	login, ok := s.authenticate(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Bad credentials"})
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	switch {
	case r.URL.Path == "/user" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]interface{}{"login": login, "id": 1})
	case r.URL.Path == "/user/repos" && r.Method == http.MethodPost:
		s.handleCreateRepo(w, login, body)
	case len(parts) == 3 && parts[0] == "repos" && r.Method == http.MethodGet:
		if !s.HasRepo(parts[1], parts[2]) {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"name":      parts[2],
			"full_name": parts[1] + "/" + parts[2],
			"private":   true,
		})
	case len(parts) >= 5 && parts[0] == "repos" && parts[3] == "contents":
		path := strings.Join(parts[4:], "/")
		switch r.Method {
		case http.MethodGet:
			s.handleGetContents(w, parts[1], parts[2], path)
		case http.MethodPut:
			s.handlePutContents(w, parts[1], parts[2], path, body)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
	}
}

func (s *Server) authenticate(r *http.Request) (string, bool) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	s.mu.Lock()
	defer s.mu.Unlock()
	login, ok := s.users[token]
	return login, ok
}

func (s *Server) handleCreateRepo(w http.ResponseWriter, login string, body []byte) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(body, &req); err != nil || req.Name == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "Validation Failed"})
		return
	}
	if s.HasRepo(login, req.Name) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "name already exists on this account"})
		return
	}
	s.AddRepo(login, req.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{"name": req.Name, "full_name": login + "/" + req.Name, "private": true})
}

func (s *Server) handleGetContents(w http.ResponseWriter, owner, repo, path string) {
	f, ok := s.GetFile(owner, repo, path)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"path":     path,
		"sha":      f.SHA,
		"encoding": "base64",
		"content":  wrap(base64.StdEncoding.EncodeToString(f.Content), 60),
	})
}

func (s *Server) handlePutContents(w http.ResponseWriter, owner, repo, path string, body []byte) {
	var req struct {
		Message string `json:"message"`
		Content string `json:"content"`
		SHA     string `json:"sha"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Problems parsing JSON"})
		return
	}
	content, err := base64.StdEncoding.DecodeString(req.Content)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "content is not valid Base64"})
		return
	}

	existing, exists := s.GetFile(owner, repo, path)
	switch {
	case exists && req.SHA == "":
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "\"sha\" wasn't supplied."})
		return
	case exists && req.SHA != existing.SHA:
		writeJSON(w, http.StatusConflict, map[string]string{"message": fmt.Sprintf("%s does not match %s", path, req.SHA)})
		return
	case !exists && req.SHA != "":
		writeJSON(w, http.StatusConflict, map[string]string{"message": "sha does not match"})
		return
	}

	sha := s.PutFile(owner, repo, path, content)
	status := http.StatusOK
	if !exists {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]interface{}{"content": map[string]string{"path": path, "sha": sha}})
}

func (s *Server) handleDeviceCode(w http.ResponseWriter) {
	s.mu.Lock()
	resp := s.device
	s.mu.Unlock()
	if resp == nil {
		resp = map[string]interface{}{
			"device_code":      "dev-code",
			"user_code":        "ABCD-1234",
			"verification_uri": "https://github.com/login/device",
			"expires_in":       900,
			"interval":         5,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAccessToken(w http.ResponseWriter, r *http.Request, body []byte) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		s.mu.Lock()
		s.polls++
		var resp map[string]interface{}
		if n := len(s.pollResponses); n > 0 {
			idx := s.polls - 1
			if idx >= n {
				idx = n - 1
			}
			resp = s.pollResponses[idx]
		}
		s.mu.Unlock()
		if resp == nil {
			resp = map[string]interface{}{"error": "authorization_pending"}
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	form, err := url.ParseQuery(string(body))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	s.mu.Lock()
	token, ok := s.codes[form.Get("code")]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]string{
			"error":             "bad_verification_code",
			"error_description": "The code passed is incorrect or expired.",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"access_token": token,
		"token_type":   "bearer",
		"scope":        "repo",
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func blobSHA(content []byte) string {
	h := sha1.New()
	fmt.Fprintf(h, "blob %d\x00", len(content))
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}

func wrap(s string, width int) string {
	var b strings.Builder
	for len(s) > width {
		b.WriteString(s[:width])
		b.WriteByte('\n')
		s = s[width:]
	}
	b.WriteString(s)
	return b.String()
}
