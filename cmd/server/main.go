package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/kevinxiao27/opset/ol"
	"github.com/kevinxiao27/opset/opset"
	"github.com/kevinxiao27/opset/store"
)

// document is one hosted replica. mu serializes every write to it.
type document struct {
	mu      sync.Mutex
	doc     *opset.Doc
	buf     *opset.Buffer
	clients []*websocket.Conn
}

type Server struct {
	mu        sync.Mutex
	documents map[string]*document
	store     *store.Store
	upgrader  websocket.Upgrader
}

type WSMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type DocumentResponse struct {
	Content any              `json:"content"`
	Version ol.RemoteVersion `json:"version"`
	Pending int              `json:"pending"`
}

func NewServer(st *store.Store) *Server {
	return &Server{
		documents: make(map[string]*document),
		store:     st,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) getDocument(id string) (*document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc, exists := s.documents[id]; exists {
		return doc, nil
	}
	d, err := s.store.LoadDoc(id, opset.WithActor("server"))
	if err != nil {
		return nil, err
	}
	doc := &document{doc: d, buf: opset.NewBuffer(nil)}
	s.documents[id] = doc
	return doc, nil
}

// apply integrates changes into doc and persists the ones that were applied or
// buffered. The caller holds doc.mu.
func (s *Server) apply(docID string, doc *document, changes []ol.Change) error {
	next, err := doc.buf.Apply(doc.doc, changes...)
	doc.doc = next

	version := next.Version()
	pending := mapset.NewThreadUnsafeSet[string]()
	for _, ch := range doc.buf.Pending() {
		pending.Add(ch.Key())
	}
	for _, ch := range changes {
		if ch.Seq > version[ch.Actor] && !pending.Contains(ch.Key()) {
			continue
		}
		if perr := s.store.PutChange(docID, ch); perr != nil {
			return perr
		}
	}
	return err
}

func (s *Server) content(doc *document) (DocumentResponse, error) {
	content, err := opset.Materialize(doc.doc, ol.RootID)
	if err != nil {
		return DocumentResponse{}, err
	}
	return DocumentResponse{Content: content, Version: doc.doc.Version(), Pending: doc.buf.Len()}, nil
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, opset.ErrMalformedOperation), errors.Is(err, opset.ErrUnknownObject):
		status = http.StatusUnprocessableEntity
	case errors.As(err, new(*json.SyntaxError)), errors.As(err, new(*json.UnmarshalTypeError)):
		status = http.StatusBadRequest
	}
	http.Error(w, err.Error(), status)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["id"]
	doc, err := s.getDocument(docID)
	if err != nil {
		writeError(w, err)
		return
	}

	doc.mu.Lock()
	resp, err := s.content(doc)
	doc.mu.Unlock()
	if err != nil {
		writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleGetChanges(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["id"]
	doc, err := s.getDocument(docID)
	if err != nil {
		writeError(w, err)
		return
	}

	since := ol.RemoteVersion{}
	if v := r.URL.Query().Get("since"); v != "" {
		if err := json.Unmarshal([]byte(v), &since); err != nil {
			writeError(w, err)
			return
		}
	}

	doc.mu.Lock()
	changes := opset.ChangesSince(doc.doc, since)
	doc.mu.Unlock()
	json.NewEncoder(w).Encode(changes)
}

func (s *Server) handlePostChanges(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["id"]
	var changes []ol.Change
	if err := json.NewDecoder(r.Body).Decode(&changes); err != nil {
		writeError(w, err)
		return
	}
	doc, err := s.getDocument(docID)
	if err != nil {
		writeError(w, err)
		return
	}

	log.Printf("CHANGES: doc=%s count=%d", docID, len(changes))

	doc.mu.Lock()
	defer doc.mu.Unlock()
	if err := s.apply(docID, doc, changes); err != nil {
		log.Printf("REJECTED: doc=%s err=%v", docID, err)
		writeError(w, err)
		return
	}
	s.broadcastToDocument(docID, doc, changes)

	resp, err := s.content(doc)
	if err != nil {
		writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["id"]
	doc, err := s.getDocument(docID)
	if err != nil {
		writeError(w, err)
		return
	}

	doc.mu.Lock()
	err = s.store.PutSnapshot(docID, doc.doc)
	doc.mu.Unlock()
	if err != nil {
		writeError(w, err)
		return
	}
	log.Printf("SNAPSHOT: doc=%s", docID)
	w.WriteHeader(http.StatusNoContent)
}

// broadcastToDocument sends changes to every connected client. The caller holds doc.mu.
func (s *Server) broadcastToDocument(docID string, doc *document, changes []ol.Change) {
	data, err := json.Marshal(changes)
	if err != nil {
		log.Printf("BROADCAST: doc=%s err=%v", docID, err)
		return
	}
	log.Printf("BROADCAST: sending %d changes to %d clients", len(changes), len(doc.clients))
	for _, conn := range doc.clients {
		if err := conn.WriteJSON(WSMessage{Type: "changes", Data: data}); err != nil {
			log.Printf("BROADCAST: doc=%s err=%v", docID, err)
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["id"]
	doc, err := s.getDocument(docID)
	if err != nil {
		writeError(w, err)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("UPGRADE: doc=%s err=%v", docID, err)
		return
	}
	defer conn.Close()

	// Send the full history so the client can rebuild the document.
	doc.mu.Lock()
	doc.clients = append(doc.clients, conn)
	history, err := json.Marshal(doc.doc.Changes())
	if err == nil {
		err = conn.WriteJSON(WSMessage{Type: "init", Data: history})
	}
	log.Printf("CLIENT CONNECTED: doc=%s total=%d", docID, len(doc.clients))
	doc.mu.Unlock()

	for err == nil {
		var msg WSMessage
		if err = conn.ReadJSON(&msg); err != nil {
			break
		}

		log.Printf("MESSAGE: type=%s", msg.Type)

		switch msg.Type {
		case "changes":
			var changes []ol.Change
			if jerr := json.Unmarshal(msg.Data, &changes); jerr != nil {
				log.Printf("MESSAGE: bad changes: %v", jerr)
				continue
			}
			doc.mu.Lock()
			if aerr := s.apply(docID, doc, changes); aerr != nil {
				log.Printf("REJECTED: doc=%s err=%v", docID, aerr)
			} else {
				s.broadcastToDocument(docID, doc, changes)
			}
			doc.mu.Unlock()
		}
	}

	// Remove client
	doc.mu.Lock()
	for i, c := range doc.clients {
		if c == conn {
			doc.clients = append(doc.clients[:i], doc.clients[i+1:]...)
			break
		}
	}
	log.Printf("CLIENT DISCONNECTED: doc=%s remaining=%d", docID, len(doc.clients))
	doc.mu.Unlock()
}

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	data := flag.String("data", "", "badger directory; empty keeps everything in memory")
	flag.Parse()

	var opts []store.Option
	if *data == "" {
		opts = append(opts, store.WithInMemory())
	}
	st, err := store.Open(*data, opts...)
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	server := NewServer(st)

	r := mux.NewRouter()
	r.HandleFunc("/docs/{id}", server.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/docs/{id}/changes", server.handleGetChanges).Methods(http.MethodGet)
	r.HandleFunc("/docs/{id}/changes", server.handlePostChanges).Methods(http.MethodPost)
	r.HandleFunc("/docs/{id}/snapshot", server.handleSnapshot).Methods(http.MethodPost)
	r.HandleFunc("/docs/{id}/ws", server.handleWebSocket)

	fmt.Printf("API server starting on %s\n", *addr)
	fmt.Printf("WebSocket API: ws://localhost%s/docs/{id}/ws\n", *addr)
	log.Fatal(http.ListenAndServe(*addr, r))
}
