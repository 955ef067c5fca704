package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
)

// Login exchanges operator credentials for a token.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	if email == "" || password == "" {
		return nil, errors.New("email and password are required")
	}

	body := struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}{email, password}

	var out LoginResult
	if err := c.call(ctx, http.MethodPost, "/admin/login", "/admin/login", nil, body, &out); err != nil {
		return nil, err
	}
	if out.Token == "" {
		return nil, errors.New("login response carried no token")
	}
	return &out, nil
}

// Profile returns the operator the client is authenticated as.
func (c *Client) Profile(ctx context.Context) (*Profile, error) {
	var p Profile
	if err := c.call(ctx, http.MethodGet, "/admin/profile", "/admin/profile", nil, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListBookings returns a page of bookings.
func (c *Client) ListBookings(ctx context.Context, q BookingQuery) (*Page[Booking], error) {
	query := pageQuery(q.Page, q.Limit)
	if q.Status != "" {
		query.Set("status", q.Status)
	}

	var page Page[Booking]
	if err := c.call(ctx, http.MethodGet, "/bookings", "/bookings", query, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// ListCleaners returns all cleaners.
func (c *Client) ListCleaners(ctx context.Context) ([]Cleaner, error) {
	var cleaners []Cleaner
	if err := c.call(ctx, http.MethodGet, "/cleaners", "/cleaners", nil, nil, &cleaners); err != nil {
		return nil, err
	}
	return cleaners, nil
}

// AssignCleaner assigns a cleaner to a booking and returns the updated booking.
func (c *Client) AssignCleaner(ctx context.Context, bookingID, cleanerID string) (*Booking, error) {
	if bookingID == "" || cleanerID == "" {
		return nil, errors.New("booking id and cleaner id are required")
	}

	body := struct {
		CleanerID string `json:"cleanerId"`
	}{cleanerID}

	var b Booking
	path := "/bookings/" + url.PathEscape(bookingID) + "/assign"
	if err := c.call(ctx, http.MethodPatch, "/bookings/{id}/assign", path, nil, body, &b); err != nil {
		return nil, err
	}
	return &b, nil
}
