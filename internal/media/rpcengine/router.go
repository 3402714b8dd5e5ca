package rpcengine

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/harborchat/harbor/internal/media"
)

// CreateRouter implements media.Engine.
func (c *Client) CreateRouter(ctx context.Context) (media.Router, error) {
	var result struct {
		RouterID        media.RouterID         `json:"router_id"`
		RTPCapabilities webrtc.RTPCapabilities `json:"rtp_capabilities"`
	}
	if err := c.call(ctx, "createRouter", struct{}{}, &result); err != nil {
		return nil, err
	}
	return &router{client: c, id: result.RouterID, caps: result.RTPCapabilities}, nil
}

type router struct {
	client *Client
	id     media.RouterID
	caps   webrtc.RTPCapabilities
}

type routerScoped struct {
	RouterID media.RouterID `json:"router_id"`
}

func (r *router) ID() media.RouterID { return r.id }

func (r *router) RTPCapabilities() webrtc.RTPCapabilities { return r.caps }

func (r *router) CreateTransport(ctx context.Context, direction media.Direction) (media.TransportParams, error) {
	params := struct {
		routerScoped
		Direction media.Direction `json:"direction"`
	}{routerScoped{r.id}, direction}
	var result media.TransportParams
	if err := r.client.call(ctx, "createTransport", params, &result); err != nil {
		return media.TransportParams{}, err
	}
	result.Direction = direction
	return result, nil
}

func (r *router) ConnectTransport(ctx context.Context, id media.TransportID, dtls webrtc.DTLSParameters) error {
	params := struct {
		routerScoped
		TransportID    media.TransportID     `json:"transport_id"`
		DTLSParameters webrtc.DTLSParameters `json:"dtls_parameters"`
	}{routerScoped{r.id}, id, dtls}
	return r.client.call(ctx, "connectTransport", params, nil)
}

func (r *router) CloseTransport(ctx context.Context, id media.TransportID) error {
	params := struct {
		routerScoped
		TransportID media.TransportID `json:"transport_id"`
	}{routerScoped{r.id}, id}
	return r.client.call(ctx, "closeTransport", params, nil)
}

func (r *router) Produce(ctx context.Context, transport media.TransportID, kind media.Kind, rtp webrtc.RTPParameters) (media.ProducerID, error) {
	params := struct {
		routerScoped
		TransportID   media.TransportID    `json:"transport_id"`
		Kind          media.Kind           `json:"kind"`
		RTPParameters webrtc.RTPParameters `json:"rtp_parameters"`
	}{routerScoped{r.id}, transport, kind, rtp}
	var result struct {
		ProducerID media.ProducerID `json:"producer_id"`
	}
	if err := r.client.call(ctx, "produce", params, &result); err != nil {
		return "", err
	}
	return result.ProducerID, nil
}

func (r *router) CloseProducer(ctx context.Context, id media.ProducerID) error {
	params := struct {
		routerScoped
		ProducerID media.ProducerID `json:"producer_id"`
	}{routerScoped{r.id}, id}
	return r.client.call(ctx, "closeProducer", params, nil)
}

func (r *router) Consume(ctx context.Context, transport media.TransportID, producer media.ProducerID, caps webrtc.RTPCapabilities) (media.ConsumerParams, error) {
	params := struct {
		routerScoped
		TransportID     media.TransportID      `json:"transport_id"`
		ProducerID      media.ProducerID       `json:"producer_id"`
		RTPCapabilities webrtc.RTPCapabilities `json:"rtp_capabilities"`
	}{routerScoped{r.id}, transport, producer, caps}
	var result media.ConsumerParams
	if err := r.client.call(ctx, "consume", params, &result); err != nil {
		return media.ConsumerParams{}, err
	}
	return result, nil
}

func (r *router) ResumeConsumer(ctx context.Context, id media.ConsumerID) error {
	params := struct {
		routerScoped
		ConsumerID media.ConsumerID `json:"consumer_id"`
	}{routerScoped{r.id}, id}
	return r.client.call(ctx, "resumeConsumer", params, nil)
}

func (r *router) CloseConsumer(ctx context.Context, id media.ConsumerID) error {
	params := struct {
		routerScoped
		ConsumerID media.ConsumerID `json:"consumer_id"`
	}{routerScoped{r.id}, id}
	return r.client.call(ctx, "closeConsumer", params, nil)
}

func (r *router) Close(ctx context.Context) error {
	return r.client.call(ctx, "closeRouter", routerScoped{r.id}, nil)
}
