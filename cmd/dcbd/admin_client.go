package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// adminGet and adminPost are a minimal admin API client: the processor
// subcommands are thin remote controls, not a second implementation of
// the admin service's logic.

func adminGet(baseAddr, path string) ([]byte, error) {
	resp, err := http.Get(baseAddr + path)
	if err != nil {
		return nil, fmt.Errorf("calling admin API: %w", err)
	}
	defer resp.Body.Close()
	return readAdminResponse(resp)
}

func adminPost(baseAddr, path string) ([]byte, error) {
	resp, err := http.Post(baseAddr+path, "application/json", nil)
	if err != nil {
		return nil, fmt.Errorf("calling admin API: %w", err)
	}
	defer resp.Body.Close()
	return readAdminResponse(resp)
}

func readAdminResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading admin API response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("admin API returned %s: %s", resp.Status, string(body))
	}
	return body, nil
}

func printJSON(body []byte, err error) error {
	if err != nil {
		return err
	}
	var v any
	if jsonErr := json.Unmarshal(body, &v); jsonErr != nil {
		fmt.Println(string(body))
		return nil
	}
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(pretty))
	return nil
}
