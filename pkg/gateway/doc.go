// Package gateway defines the payment-gateway collaborator boundary.
//
// The billing core never polls the gateway; it only classifies webhooks that
// already arrived and, from the dunning scheduler, asks the gateway to create
// a new payment intent for a recovery attempt. The Client and Parser
// interfaces keep those interactions narrow so the core can be tested with
// in-memory fakes, while PaddleGateway provides a production implementation
// on top of the official SDK.
package gateway
