// Command smellynode runs the node daemon: persistent store, mempool,
// consensus engine, fairness ledger, and the work/pool RPC surfaces, wired
// together and exposed over plain net/http JSON handlers and a raw
// net.Listener line server for the pool protocol.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"

	"github.com/smellychain/smellynode/chaincfg"
	"github.com/smellychain/smellynode/consensus"
	"github.com/smellychain/smellynode/coreerr"
	"github.com/smellychain/smellynode/fairness"
	"github.com/smellychain/smellynode/internal/clog"
	"github.com/smellychain/smellynode/internal/metrics"
	"github.com/smellychain/smellynode/mempool"
	"github.com/smellychain/smellynode/poolservice"
	"github.com/smellychain/smellynode/pow"
	"github.com/smellychain/smellynode/store"
	"github.com/smellychain/smellynode/txn"
	"github.com/smellychain/smellynode/workservice"
)

func main() {
	app := &cli.App{
		Name:  "smellynode",
		Usage: "PoW ledger node: mempool, consensus, work/pool RPC",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "path to chain config YAML"},
			&cli.StringFlag{Name: "db", Value: "smellynode.db", Usage: "path to the bbolt data file"},
			&cli.StringFlag{Name: "http-addr", Value: "127.0.0.1:8645", Usage: "address for the JSON work/tx API"},
			&cli.StringFlag{Name: "pool-addr", Value: "", Usage: "address for the line-delimited pool protocol (empty disables it)"},
			&cli.Uint64Flag{Name: "share-difficulty", Value: 1, Usage: "pool share-accounting difficulty"},
			&cli.StringFlag{Name: "log-file", Value: "", Usage: "rotating log file path (empty disables file logging)"},
			&cli.BoolFlag{Name: "mine", Usage: "continuously assemble and mine blocks locally on this node"},
			&cli.StringFlag{Name: "miner-address", Value: "SMELLY_LOCAL_MINER", Usage: "payout address credited for locally mined blocks"},
		},
		Commands: []*cli.Command{
			{Name: "serve", Usage: "run the node daemon", Action: serveAction},
			{Name: "status", Usage: "print chain tip and mempool size", Action: statusAction},
		},
		Action: serveAction,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openNode(c *cli.Context) (*store.Store, *chaincfg.Params, error) {
	params := chaincfg.Default()
	if p := c.String("config"); p != "" {
		loaded, err := chaincfg.Load(p)
		if err != nil {
			return nil, nil, fmt.Errorf("load config: %w", err)
		}
		params = loaded
	}
	st, err := store.Open(c.String("db"), 5*time.Second)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	return st, params, nil
}

func serveAction(c *cli.Context) error {
	clog.Init(slog.LevelInfo, clog.FileConfig{Path: c.String("log-file")})

	st, params, err := openNode(c)
	if err != nil {
		return err
	}
	defer st.Close()

	backend := pow.NewArgon2Backend(params.Argon2.TimeCost, params.Argon2.MemoryMiB, params.Argon2.Parallelism)
	work, err := workservice.New(st, params, backend)
	if err != nil {
		return fmt.Errorf("init work service: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/get_work", getWorkHandler(work))
	mux.HandleFunc("/submit_work", submitWorkHandler(work))
	mux.HandleFunc("/get_ticket", getTicketHandler(work))
	mux.HandleFunc("/submit_near_target", submitNearTargetHandler(work))
	mux.HandleFunc("/submit_block", submitBlockHandler(work))
	mux.HandleFunc("/tx_submit", txSubmitHandler(st, params))
	mux.Handle("/metrics", metrics.Handler())

	if addr := c.String("pool-addr"); addr != "" {
		pool := poolservice.New(st, params, backend, c.Uint64("share-difficulty"))
		if err := pool.RefreshJob(); err != nil {
			return fmt.Errorf("prime pool job: %w", err)
		}
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listen pool: %w", err)
		}
		go servePool(ln, pool)
		log.Info("pool protocol listening", "addr", addr)
	}

	if c.Bool("mine") {
		fp := fairness.FairnessParams{
			EpochLength:           params.FairnessEpochLengthMain,
			InitialBlockRewardMts: params.InitialBlockReward,
			HalvingIntervalBlocks: params.HalvingIntervalBlocks,
		}
		stop := make(chan struct{})
		go runMiner(st, params, backend, fp, c.String("miner-address"), stop)
		log.Info("local mining enabled", "miner_address", c.String("miner-address"))
	}

	log.Info("http api listening", "addr", c.String("http-addr"))
	return http.ListenAndServe(c.String("http-addr"), mux)
}

// assembleMineAndSettle runs one local mining attempt plus the fairness
// epoch hook in a single store transaction, mirroring the way
// workservice.acceptAndSettle and poolservice wrap external submissions:
// consensus cannot import fairness (fairness already imports consensus for
// reward math), so the hook is driven from here instead.
func assembleMineAndSettle(st *store.Store, params *chaincfg.Params, backend pow.Backend, fp fairness.FairnessParams, minerAddress string, stop <-chan struct{}) (*store.Header, *coreerr.Error) {
	var header *store.Header
	var mineErr *coreerr.Error
	err := st.Update(func(sess *store.Session) error {
		tip, hasTip, terr := sess.Tip()
		if terr != nil {
			return terr
		}
		prevHeight := uint32(0)
		if hasTip {
			prevHeight = tip.Height
		}

		h, aerr := consensus.AssembleAndMine(sess, params, backend, minerAddress, stop)
		if aerr != nil {
			mineErr = aerr
			return aerr
		}
		header = h
		if err := fairness.EnsureEpoch(sess, h.Height, fp.EpochLength, params.FairnessPoolRatio); err != nil {
			return err
		}
		return fairness.SettleIfCrossed(sess, fp, prevHeight, h.Height)
	})
	if mineErr != nil {
		return nil, mineErr
	}
	if err != nil {
		return nil, coreerr.Newf(coreerr.NoSolution, "commit failed: %v", err)
	}
	return header, nil
}

// runMiner loops assembleMineAndSettle until stop is closed, the way the
// original node's --mine flag continuously posted mine_one attempts.
func runMiner(st *store.Store, params *chaincfg.Params, backend pow.Backend, fp fairness.FairnessParams, minerAddress string, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		header, mineErr := assembleMineAndSettle(st, params, backend, fp, minerAddress, stop)
		if mineErr != nil {
			if mineErr.Kind != coreerr.NoSolution {
				metrics.BlocksRejected.WithLabelValues(string(mineErr.Kind)).Inc()
				log.Warn("local mine attempt failed", "err", mineErr.Kind, "reason", mineErr.Reason)
			}
			time.Sleep(200 * time.Millisecond)
			continue
		}
		metrics.BlocksAccepted.WithLabelValues("local").Inc()
		metrics.ChainHeight.Set(float64(header.Height))
		log.Info("locally mined block", "height", header.Height, "hash", header.Hash)
	}
}

func servePool(ln net.Listener, pool *poolservice.Service) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			log.Error("pool accept failed", "err", err)
			return
		}
		go pool.Serve(conn)
	}
}

func statusAction(c *cli.Context) error {
	st, params, err := openNode(c)
	if err != nil {
		return err
	}
	defer st.Close()

	var height uint32
	var hash string
	var mempoolSize int
	err = st.View(func(sess *store.Session) error {
		if tip, ok, terr := sess.Tip(); terr == nil && ok {
			height, hash = tip.Height, tip.Hash
		}
		all, merr := sess.AllMempoolEntries()
		if merr != nil {
			return merr
		}
		mempoolSize = len(all)
		return nil
	})
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"field", "value"})
	table.Append([]string{"tip height", fmt.Sprintf("%d", height)})
	table.Append([]string{"tip hash", hash})
	table.Append([]string{"mempool size", fmt.Sprintf("%d", mempoolSize)})
	table.Append([]string{"block version", fmt.Sprintf("%d", params.BlockVersion)})
	table.Render()
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func getWorkHandler(work *workservice.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hint := r.URL.Query().Get("miner_hint")
		resp, err := work.GetWork(hint)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"accepted": false, "error": err.Error()})
			return
		}
		metrics.WorkJobsIssued.Inc()
		writeJSON(w, http.StatusOK, resp)
	}
}

type submitWorkRequest struct {
	JobID         string  `json:"job_id"`
	MinerAddress  string  `json:"miner_address"`
	Nonce         uint64  `json:"nonce"`
	Timestamp     uint64  `json:"timestamp"`
	Version       uint32  `json:"version"`
	MerkleRootHex string  `json:"merkle_root_hex"`
	PrevHashHex   *string `json:"prev_hash_hex,omitempty"`
}

func submitWorkHandler(work *workservice.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitWorkRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"accepted": false, "error": string(coreerr.BadFormat)})
			return
		}
		result, acceptErr := work.SubmitWork(req.JobID, req.MinerAddress, req.Nonce, req.Timestamp, req.Version, req.MerkleRootHex, req.PrevHashHex)
		if acceptErr != nil {
			metrics.BlocksRejected.WithLabelValues(string(acceptErr.Kind)).Inc()
			writeJSON(w, http.StatusBadRequest, map[string]any{"accepted": false, "error": string(acceptErr.Kind), "reason": acceptErr.Reason})
			return
		}
		metrics.BlocksAccepted.WithLabelValues("work").Inc()
		metrics.ChainHeight.Set(float64(result.Header.Height))
		writeJSON(w, http.StatusOK, map[string]any{
			"accepted": true, "hash": result.Header.Hash, "height": result.Header.Height,
			"prev": result.Header.PrevHash, "job_id": req.JobID, "txids_len": result.Header.TxCount,
		})
	}
}

func getTicketHandler(work *workservice.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addr := r.URL.Query().Get("addr")
		if addr == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": string(coreerr.BadFormat)})
			return
		}
		ticket, err := work.IssueTicket(addr)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, ticket)
	}
}

type submitNearTargetRequest struct {
	TicketID   string `json:"ticket_id"`
	Addr       string `json:"addr"`
	Nonce      uint64 `json:"nonce"`
	DigestHex  string `json:"digest_hex"`
	ProofLevel int    `json:"proof_level"`
	Payload    string `json:"payload"`
	Sig        string `json:"sig"`
}

func submitNearTargetHandler(work *workservice.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitNearTargetRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"accepted": false, "error": string(coreerr.BadFormat)})
			return
		}
		if acceptErr := work.SubmitNearTarget(req.TicketID, req.Addr, req.Nonce, req.DigestHex, req.ProofLevel, req.Payload, req.Sig); acceptErr != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"accepted": false, "error": string(acceptErr.Kind), "reason": acceptErr.Reason})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"accepted": true})
	}
}

type submitBlockRequest struct {
	TicketID      string `json:"ticket_id"`
	Addr          string `json:"addr"`
	Nonce         uint64 `json:"nonce"`
	Version       uint32 `json:"version"`
	Timestamp     uint64 `json:"timestamp"`
	MerkleRootHex string `json:"merkle_root_hex"`
	Payload       string `json:"payload"`
	Sig           string `json:"sig"`
}

func submitBlockHandler(work *workservice.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitBlockRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"accepted": false, "error": string(coreerr.BadFormat)})
			return
		}
		result, acceptErr := work.SubmitBlock(req.TicketID, req.Addr, req.Nonce, req.Version, req.Timestamp, req.MerkleRootHex, req.Payload, req.Sig)
		if acceptErr != nil {
			metrics.BlocksRejected.WithLabelValues(string(acceptErr.Kind)).Inc()
			writeJSON(w, http.StatusBadRequest, map[string]any{"accepted": false, "error": string(acceptErr.Kind), "reason": acceptErr.Reason})
			return
		}
		metrics.BlocksAccepted.WithLabelValues("ticket").Inc()
		metrics.ChainHeight.Set(float64(result.Header.Height))
		writeJSON(w, http.StatusOK, map[string]any{"accepted": true, "hash": result.Header.Hash, "height": result.Header.Height})
	}
}

func txSubmitHandler(st *store.Store, params *chaincfg.Params) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var tx txn.Tx
		if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"accepted": false, "error": string(coreerr.BadFormat)})
			return
		}
		var height uint32
		err := st.View(func(sess *store.Session) error {
			if tip, ok, terr := sess.Tip(); terr == nil && ok {
				height = tip.Height
			}
			return nil
		})
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"accepted": false, "error": err.Error()})
			return
		}

		var admitErr *coreerr.Error
		var mempoolSize int
		err = st.Update(func(sess *store.Session) error {
			_, admitErr = mempool.Admit(sess, params, height, tx)
			if admitErr != nil {
				return admitErr
			}
			all, merr := sess.AllMempoolEntries()
			if merr != nil {
				return merr
			}
			mempoolSize = len(all)
			return nil
		})
		txid := tx.TxID()
		if admitErr != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"accepted": false, "error": string(admitErr.Kind), "txid": txid})
			return
		}
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"accepted": false, "error": err.Error()})
			return
		}
		metrics.MempoolSize.Set(float64(mempoolSize))
		writeJSON(w, http.StatusOK, map[string]any{"accepted": true, "txid": txid})
	}
}
