package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
)

// APIServer exposes the peer HTTP surface (§6): the only wire protocol
// this system defines. Every handler reads through Store; none of them
// mutate chain state.
type APIServer struct {
	store Store
}

// ChainInfoResponse is the body of GET /chain_info.
type ChainInfoResponse struct {
	ChainLength     int64   `json:"chain_length"`
	LatestBlockHash *string `json:"latest_block_hash"`
}

// MerkleProofResponse is the body of GET /merkle-proof/{block_index}/{tx_index}.
type MerkleProofResponse struct {
	Transaction Transaction       `json:"transaction"`
	MerkleRoot  string            `json:"merkle_root"`
	Proof       []MerkleProofStep `json:"proof"`
	ProofValid  bool              `json:"proof_valid"`
}

type apiErrorResponse struct {
	Error string `json:"error"`
}

// NewAPIServer builds a router mounting the three peer-HTTP-surface
// routes behind a read rate limiter and a JSON content-type middleware.
// CORS is not part of the router; StartAPIServer wraps it.
func NewAPIServer(store Store) *mux.Router {
	rs := &APIServer{store: store}

	router := mux.NewRouter()
	router.Use(jsonContentTypeMiddleware)

	readLimiter := NewIPRateLimiter(20, 30)
	readMW := RateLimitMiddleware(readLimiter)

	router.Handle("/chain_info", readMW(http.HandlerFunc(rs.getChainInfo))).Methods("GET")
	router.Handle("/blocks", readMW(http.HandlerFunc(rs.getBlocks))).Methods("GET")
	router.Handle("/merkle-proof/{block_index}/{tx_index}", readMW(http.HandlerFunc(rs.getMerkleProof))).Methods("GET")

	return router
}

// StartAPIServer runs the peer HTTP surface, blocking until the server
// stops or errors.
func StartAPIServer(store Store, listenHost string, port int) error {
	router := NewAPIServer(store)
	addr := fmt.Sprintf("%s:%d", listenHost, port)
	PrintInfo(fmt.Sprintf("peer HTTP surface listening on http://%s", addr))

	srv := &http.Server{
		Handler:      CORSMiddleware(router),
		Addr:         addr,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}
	return srv.ListenAndServe()
}

func (rs *APIServer) getChainInfo(w http.ResponseWriter, r *http.Request) {
	length, err := rs.store.ChainLength()
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, err)
		return
	}

	resp := ChainInfoResponse{ChainLength: length}
	latest, found, err := rs.store.LatestBlock()
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, err)
		return
	}
	if found {
		hash := latest.Hash
		resp.LatestBlockHash = &hash
	}

	json.NewEncoder(w).Encode(resp)
}

func (rs *APIServer) getBlocks(w http.ResponseWriter, r *http.Request) {
	start, err := parseIntQuery(r, "start_index", 0)
	if err != nil {
		writeAPIErrorMsg(w, http.StatusBadRequest, "invalid start_index")
		return
	}
	end, err := parseIntQuery(r, "end_index", -1)
	if err != nil {
		writeAPIErrorMsg(w, http.StatusBadRequest, "invalid end_index")
		return
	}

	blocks, err := rs.store.GetBlocks(start, end)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, err)
		return
	}

	wire := make([]map[string]interface{}, len(blocks))
	for i, b := range blocks {
		wire[i] = b.ToWire()
	}
	json.NewEncoder(w).Encode(wire)
}

func (rs *APIServer) getMerkleProof(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	blockIndex, err := strconv.ParseInt(vars["block_index"], 10, 64)
	if err != nil {
		writeAPIErrorMsg(w, http.StatusBadRequest, "invalid block_index")
		return
	}
	txIndex, err := strconv.Atoi(vars["tx_index"])
	if err != nil {
		writeAPIErrorMsg(w, http.StatusBadRequest, "invalid tx_index")
		return
	}

	block, found, err := rs.store.GetBlock(blockIndex)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, err)
		return
	}
	if !found {
		writeAPIErrorMsg(w, http.StatusNotFound, "block not found")
		return
	}
	if txIndex < 0 || txIndex >= len(block.Transactions) {
		writeAPIErrorMsg(w, http.StatusNotFound, "transaction index out of range")
		return
	}

	tx := block.Transactions[txIndex]
	proof := block.Proof(txIndex)
	valid := block.VerifyInclusion(tx, proof)

	json.NewEncoder(w).Encode(MerkleProofResponse{
		Transaction: tx,
		MerkleRoot:  block.MerkleRoot,
		Proof:       proof,
		ProofValid:  valid,
	})
}

func parseIntQuery(r *http.Request, key string, fallback int64) (int64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

func writeAPIError(w http.ResponseWriter, status int, err error) {
	writeAPIErrorMsg(w, status, err.Error())
}

func writeAPIErrorMsg(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiErrorResponse{Error: msg})
}
