// Package client is the Go SDK for calling a running agent.
//
// It fetches the agent card, lists entrypoints, and calls them over the
// invoke and stream routes. Paid entrypoints answer 402 with the x402
// payment requirements; the client surfaces them as *PaymentRequiredError or
// pays through a configured PayFunc and retries once.
//
// # Calling an entrypoint
//
//	c, err := client.New("http://localhost:8080", client.WithBasePath("/api/agent"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	res, err := c.Invoke(ctx, "echo", map[string]any{"text": "hello"})
//	fmt.Println(string(res.Output))
//
// # Streaming
//
// Stream hands every server-sent event to the callback and returns the
// result carried by the closing run-end event:
//
//	res, err := c.Stream(ctx, "count", map[string]any{"to": 3}, func(ev client.Event) error {
//	    fmt.Println(ev.Kind, string(ev.Data))
//	    return nil
//	})
//
// # Paying
//
// Without a payer a paid call fails with the requirements attached:
//
//	_, err := c.Invoke(ctx, "premium", nil)
//	var pr *client.PaymentRequiredError
//	if errors.As(err, &pr) {
//	    fmt.Println(pr.Body.Accepts[0].MaxAmountRequired, pr.Body.Accepts[0].Network)
//	}
//
// WithPayer signs a payment for the requirements and retries:
//
//	c, _ := client.New(agentURL, client.WithPayer(func(ctx context.Context, req client.PaymentRequired) (string, error) {
//	    return wallet.SignExact(ctx, req.Accepts[0])
//	}))
//
// The decoded X-PAYMENT-RESPONSE header of a settled call is in
// RunResult.Settlement.
package client
