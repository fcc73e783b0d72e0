package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/solpond/arena/internal/escrow"
)

// escrowcheck is a standalone ops probe: it asks the configured RPC node
// for its health and for the escrow balance, then exits. Useful as a
// deployment smoke test without starting the full server.

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func main() {
	rpcURL := os.Getenv("SOLANA_RPC_URL")
	if rpcURL == "" {
		log.Fatal("SOLANA_RPC_URL is required")
	}

	addr := os.Getenv("ESCROW_ADDRESS")
	if addr == "" {
		if key := os.Getenv("ESCROW_PRIVATE_KEY"); key != "" {
			esc, err := escrow.Load(key)
			if err != nil {
				log.Fatalf("escrow key error: %v", err)
			}
			addr = esc.Address()
		}
	}

	client := &fasthttp.Client{
		ReadTimeout:  8 * time.Second,
		WriteTimeout: 8 * time.Second,
	}

	var health string
	if err := call(client, rpcURL, "getHealth", nil, &health); err != nil {
		log.Printf("getHealth error: %v", err)
	} else {
		log.Printf("getHealth ok: %s", health)
	}

	if addr == "" {
		log.Println("ESCROW_ADDRESS not set; skipping balance check")
		return
	}

	var balance struct {
		Value uint64 `json:"value"`
	}
	if err := call(client, rpcURL, "getBalance", []any{addr}, &balance); err != nil {
		log.Fatalf("getBalance error: %v", err)
	}
	log.Printf("escrow %s balance: %d lamports (%.4f SOL)", addr, balance.Value, float64(balance.Value)/1e9)
}

func call(client *fasthttp.Client, url, method string, params []any, out any) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	if err := client.DoTimeout(req, resp, 10*time.Second); err != nil {
		return err
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return fmt.Errorf("rpc status %d", resp.StatusCode())
	}

	var parsed rpcResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return err
	}
	if parsed.Error != nil {
		return fmt.Errorf("rpc error %d: %s", parsed.Error.Code, parsed.Error.Message)
	}
	return json.Unmarshal(parsed.Result, out)
}
