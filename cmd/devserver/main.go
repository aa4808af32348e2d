// Command devserver is an in-memory stand-in for the SecureChat backend:
// account registration, HS256 session tokens with rotation on refresh, the
// user directory, opt-in history storage and websocket fan-out. State lives
// in process memory only; this exists for local development and manual
// testing of the client.
package main

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/securechat-dev/securechat/internal/client/models"
	"github.com/securechat-dev/securechat/internal/common"
	"github.com/securechat-dev/securechat/internal/cryptox"
)

const tokenValidity = 24 * time.Hour

type claims struct {
	jwt.RegisteredClaims
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

type account struct {
	ID        string
	Username  string
	Salt      []byte
	Verifier  []byte
	PublicKey []byte
}

type server struct {
	log    *slog.Logger
	secret []byte

	mu       sync.RWMutex
	byName   map[string]*account
	byID     map[string]*account
	sessions map[string]string           // session id -> user id
	history  map[string][]models.Envelope // conversation key -> ordered envelopes
	conns    map[string]*websocket.Conn  // user id -> active delivery connection
}

func newServer(log *slog.Logger) *server {
	return &server{
		log:      log,
		secret:   common.GenerateRandByteArray(32),
		byName:   make(map[string]*account),
		byID:     make(map[string]*account),
		sessions: make(map[string]string),
		history:  make(map[string][]models.Envelope),
		conns:    make(map[string]*websocket.Conn),
	}
}

// conversationKey is direction-independent: both participants read and write
// the same bucket.
func conversationKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, ":")
}

func (s *server) issueToken(userID, sessionID string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(tokenValidity)),
		},
		UserID:    userID,
		SessionID: sessionID,
	})
	return token.SignedString(s.secret)
}

func (s *server) parseToken(r *http.Request) (*claims, bool) {
	header := r.Header.Get(common.AuthorizationHeaderName)
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return nil, false
	}

	c := &claims{}
	token, err := jwt.ParseWithClaims(raw, c, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, false
	}

	s.mu.RLock()
	userID, live := s.sessions[c.SessionID]
	s.mu.RUnlock()
	if !live || userID != c.UserID {
		return nil, false
	}
	return c, true
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil || creds.Username == "" || creds.Password == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	salt := common.GenerateRandByteArray(32)
	acc := &account{
		ID:       uuid.NewString(),
		Username: creds.Username,
		Salt:     salt,
		Verifier: cryptox.DeriveMasterKey([]byte(creds.Password), salt),
	}

	s.mu.Lock()
	if _, exists := s.byName[creds.Username]; exists {
		s.mu.Unlock()
		http.Error(w, "username taken", http.StatusConflict)
		return
	}
	s.byName[creds.Username] = acc
	s.byID[acc.ID] = acc
	s.mu.Unlock()

	s.log.Info("registered user", "username", creds.Username, "user_id", acc.ID)
	w.WriteHeader(http.StatusCreated)
}

func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	s.mu.RLock()
	acc := s.byName[creds.Username]
	s.mu.RUnlock()
	if acc == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	verifier := cryptox.DeriveMasterKey([]byte(creds.Password), acc.Salt)
	if subtle.ConstantTimeCompare(verifier, acc.Verifier) != 1 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	sessionID, err := common.MakeRandHexString(16)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	token, err := s.issueToken(acc.ID, sessionID)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	s.sessions[sessionID] = acc.ID
	s.mu.Unlock()

	writeJSON(w, map[string]string{
		"token":      token,
		"session_id": sessionID,
		"user_id":    acc.ID,
		"username":   acc.Username,
	})
}

// handleRefresh rotates the session: the presented session id is retired and
// a fresh one is bound to the new token.
func (s *server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	c, ok := s.parseToken(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	sessionID, err := common.MakeRandHexString(16)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	token, err := s.issueToken(c.UserID, sessionID)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	delete(s.sessions, c.SessionID)
	s.sessions[sessionID] = c.UserID
	s.mu.Unlock()

	writeJSON(w, map[string]string{"token": token, "session_id": sessionID})
}

func (s *server) handleUsers(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.parseToken(r); !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	s.mu.RLock()
	users := make([]models.Identity, 0, len(s.byID))
	for _, acc := range s.byID {
		users = append(users, models.Identity{
			ID:        acc.ID,
			Username:  acc.Username,
			PublicKey: acc.PublicKey,
		})
	}
	s.mu.RUnlock()

	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	writeJSON(w, users)
}

func (s *server) handleKeys(w http.ResponseWriter, r *http.Request) {
	c, ok := s.parseToken(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var body struct {
		UserID    string `json:"user_id"`
		PublicKey string `json:"public_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	userID := models.NormalizeID(body.UserID, c.UserID)
	if userID != c.UserID {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	key, err := base64.StdEncoding.DecodeString(body.PublicKey)
	if err != nil || len(key) == 0 {
		http.Error(w, "invalid public key", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	if acc := s.byID[userID]; acc != nil {
		acc.PublicKey = key
	}
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (s *server) handleHistory(w http.ResponseWriter, r *http.Request) {
	c, ok := s.parseToken(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	peerID := strings.TrimPrefix(r.URL.Path, "/api/messages/history/")
	localID := models.NormalizeID(r.URL.Query().Get(common.UserIDQueryParam), c.UserID)
	if peerID == "" {
		http.Error(w, "missing peer", http.StatusBadRequest)
		return
	}

	s.mu.RLock()
	stored := s.history[conversationKey(localID, peerID)]
	out := make([]models.Envelope, len(stored))
	copy(out, stored)
	s.mu.RUnlock()

	writeJSON(w, out)
}

func (s *server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get(common.SessionIDQueryParam)
	userID := r.URL.Query().Get(common.UserIDQueryParam)

	s.mu.RLock()
	owner, live := s.sessions[sessionID]
	s.mu.RUnlock()
	if !live || owner != userID {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("websocket accept failed", "error", err)
		return
	}

	s.mu.Lock()
	if prev := s.conns[userID]; prev != nil {
		prev.Close(websocket.StatusNormalClosure, "superseded")
	}
	s.conns[userID] = conn
	s.mu.Unlock()

	s.log.Info("delivery channel open", "user_id", userID)
	defer func() {
		s.mu.Lock()
		if s.conns[userID] == conn {
			delete(s.conns, userID)
		}
		s.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	ctx := r.Context()
	for {
		var env models.Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			s.log.Info("delivery channel closed", "user_id", userID, "error", err)
			return
		}

		env.SenderID = models.NormalizeID(env.SenderID, userID)
		if env.ID == "" {
			env.ID = uuid.NewString()
		}
		if env.Timestamp.IsZero() {
			env.Timestamp = time.Now().UTC()
		}

		if env.StoreHistory {
			key := conversationKey(env.SenderID, env.RecipientID)
			s.mu.Lock()
			s.history[key] = append(s.history[key], env)
			s.mu.Unlock()
		}

		s.deliver(r, env.RecipientID, env)
		// The sender gets an echo so every device sees its own messages.
		if env.SenderID != env.RecipientID {
			s.deliver(r, env.SenderID, env)
		}
	}
}

func (s *server) deliver(r *http.Request, userID string, env models.Envelope) {
	s.mu.RLock()
	conn := s.conns[userID]
	s.mu.RUnlock()
	if conn == nil {
		return
	}
	if err := wsjson.Write(r.Context(), conn, env); err != nil {
		s.log.Warn("delivery failed", "user_id", userID, "error", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func main() {
	addr := flag.String("a", ":8080", "listen address")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	s := newServer(log)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/auth/refresh", s.handleRefresh)
	mux.HandleFunc("GET /api/auth/users", s.handleUsers)
	mux.HandleFunc("POST /api/auth/keys", s.handleKeys)
	mux.HandleFunc("GET /api/messages/history/", s.handleHistory)
	mux.HandleFunc("GET /ws", s.handleWebsocket)

	log.Info("devserver listening", "addr", *addr)
	if err := http.ListenAndServe(*addr, mux); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
