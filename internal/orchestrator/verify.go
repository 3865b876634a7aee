package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/proxy"
)

const checkURL = "https://check.torproject.org/api/ip"

// VerifyResult is the anonymity check outcome for one SOCKS endpoint.
type VerifyResult struct {
	SocksAddr string `json:"socks_addr"`
	ExitIP    string `json:"exit_ip"`
	IsRelayed bool   `json:"is_relayed"`
}

// VerifyCircuit confirms that traffic through the given SOCKS endpoint
// actually exits via the anonymizing network, using the network's own
// check service.
func VerifyCircuit(ctx context.Context, socksAddr string) (VerifyResult, error) {
	out := VerifyResult{SocksAddr: socksAddr}

	dialer, err := proxy.SOCKS5("tcp", socksAddr, nil, proxy.Direct)
	if err != nil {
		return out, fmt.Errorf("build socks dialer: %w", err)
	}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			if cd, ok := dialer.(proxy.ContextDialer); ok {
				return cd.DialContext(ctx, network, addr)
			}
			return dialer.Dial(network, addr)
		},
	}
	client := &http.Client{Transport: transport, Timeout: 60 * time.Second}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, checkURL, nil)
	if err != nil {
		return out, fmt.Errorf("build check request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return out, fmt.Errorf("check request through %s: %w", socksAddr, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return out, fmt.Errorf("check service returned status %d", resp.StatusCode)
	}

	var body struct {
		IsTor bool   `json:"IsTor"`
		IP    string `json:"IP"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return out, fmt.Errorf("decode check response: %w", err)
	}
	out.ExitIP = body.IP
	out.IsRelayed = body.IsTor
	return out, nil
}
