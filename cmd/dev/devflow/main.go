package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"cabbooking/internal/identity"
	"cabbooking/pkg/config"
)

// devflow drives one booking through its whole lifecycle against a running API:
// create, accept, fleet setup, assign, start, end, review, then prints the history.
func main() {
	var (
		baseURL     = flag.String("base-url", "", "api base url (defaults to http://localhost<HTTP_ADDR>)")
		companyUser = flag.String("company-user", "", "identity-provider user id of a company profile")
		vendorUser  = flag.String("vendor-user", "", "identity-provider user id of an associated vendor profile")
		secret      = flag.String("jwt-secret", "", "SUPABASE_JWT_SECRET used by server")
		fare        = flag.String("fare", "450.00", "actual fare sent when ending the trip")
	)
	flag.Parse()

	if *companyUser == "" || *vendorUser == "" {
		fmt.Fprintln(os.Stderr, "missing -company-user or -vendor-user")
		os.Exit(2)
	}

	cfg := config.Load()
	if *baseURL == "" {
		*baseURL = defaultBaseURL(cfg.HTTPAddr)
	}
	if *secret == "" {
		*secret = cfg.Auth.JWTSecret
	}
	if *secret == "" {
		fmt.Fprintln(os.Stderr, "missing -jwt-secret (or SUPABASE_JWT_SECRET in env/.env)")
		os.Exit(2)
	}

	c := client{base: strings.TrimRight(*baseURL, "/"), http: &http.Client{Timeout: 10 * time.Second}}
	company := c.as(*companyUser, cfg.Auth.Audience, *secret)
	vendor := c.as(*vendorUser, cfg.Auth.Audience, *secret)

	var b struct {
		ID            string `json:"id"`
		BookingNumber string `json:"bookingNumber"`
		Status        string `json:"status"`
	}
	company.must(http.MethodPost, "/v1/bookings", map[string]any{
		"guestName":       "Dev Guest",
		"guestPhone":      "+91 90000 00000",
		"pickupLocation":  "Terminal 2",
		"dropoffLocation": "MG Road",
		"pickupDatetime":  time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		"vehicleType":     "sedan",
	}, &b)
	fmt.Printf("created booking %s (%s)\n", b.BookingNumber, b.ID)

	path := "/v1/bookings/" + b.ID
	vendor.must(http.MethodPost, path+"/accept", nil, &b)
	fmt.Printf("accepted: status=%s\n", b.Status)

	suffix := time.Now().Format("150405")
	var driver, vehicle struct {
		ID string `json:"id"`
	}
	vendor.must(http.MethodPost, "/v1/drivers", map[string]any{
		"name": "Dev Driver", "phone": "+91 90000 00001", "licenseNumber": "DL-" + suffix,
	}, &driver)
	vendor.must(http.MethodPost, "/v1/vehicles", map[string]any{
		"registrationNumber": "DEV" + suffix, "vehicleType": "sedan", "make": "Toyota", "model": "Etios",
	}, &vehicle)

	vendor.must(http.MethodPost, path+"/assign", map[string]any{"driverId": driver.ID, "vehicleId": vehicle.ID}, &b)
	vendor.must(http.MethodPost, path+"/start", nil, &b)
	fmt.Printf("trip started: status=%s\n", b.Status)
	vendor.must(http.MethodPost, path+"/end", map[string]any{"actualFare": *fare}, &b)
	fmt.Printf("trip ended: status=%s\n", b.Status)
	company.must(http.MethodPost, path+"/review", map[string]any{"rating": 5, "feedback": "dev flow"}, &b)

	var history struct {
		Items []struct {
			Status    string    `json:"status"`
			ChangedBy string    `json:"changedBy"`
			Notes     string    `json:"notes"`
			CreatedAt time.Time `json:"createdAt"`
		} `json:"items"`
	}
	company.must(http.MethodGet, path+"/history", nil, &history)

	fmt.Printf("history:\n")
	for _, h := range history.Items {
		fmt.Printf("  - %s status=%s by=%s notes=%q\n", h.CreatedAt.Format(time.RFC3339), h.Status, h.ChangedBy, h.Notes)
	}
}

type client struct {
	base  string
	http  *http.Client
	token string
}

func (c client) as(userID, audience, secret string) client {
	tok, err := identity.SignSessionToken(userID, audience, secret, time.Hour, time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "sign token: %v\n", err)
		os.Exit(1)
	}
	c.token = tok
	return c
}

func (c client) must(method, path string, body, out any) {
	var rdr io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.base+path, rdr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "new request: %v\n", err)
		os.Exit(1)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %s: %v\n", method, path, err)
		fmt.Fprintf(os.Stderr, "tip: is the API running, and is HTTP_ADDR set correctly? base_url=%s\n", c.base)
		os.Exit(1)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		fmt.Fprintf(os.Stderr, "%s %s status=%d body=%s\n", method, path, resp.StatusCode, string(raw))
		os.Exit(1)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			fmt.Fprintf(os.Stderr, "decode %s: %v\n", path, err)
			os.Exit(1)
		}
	}
}

func defaultBaseURL(httpAddr string) string {
	// httpAddr is typically ":8081" or "0.0.0.0:8081".
	addr := strings.TrimSpace(httpAddr)
	if addr == "" {
		addr = ":8081"
	}
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	if strings.HasPrefix(addr, "0.0.0.0:") {
		return "http://localhost" + strings.TrimPrefix(addr, "0.0.0.0")
	}
	return "http://" + addr
}
