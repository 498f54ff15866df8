package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/iaros/optimization-engine/internal/attribution"
	"github.com/iaros/optimization-engine/internal/store"
)

// WebhookController handles platform-delivered webhooks. HMAC
// verification runs over the raw, unparsed body, since gin's
// ShouldBindJSON would otherwise consume and re-serialize it,
// changing the exact bytes the platform signed.
type WebhookController struct {
	secret      []byte
	pipeline    *attribution.Pipeline
	shopPurger  *store.ShopPurger
	logger      *zap.Logger
}

func NewWebhookController(secret []byte, pipeline *attribution.Pipeline, shopPurger *store.ShopPurger, logger *zap.Logger) *WebhookController {
	return &WebhookController{
		secret:     secret,
		pipeline:   pipeline,
		shopPurger: shopPurger,
		logger:     logger,
	}
}

// sessionNoteAttributeName is the note-attribute the storefront script
// writes the session id under, per spec §3/§4.5 step 1.
const sessionNoteAttributeName = "session_id"

type orderCreatePayload struct {
	Shop            string `json:"shop"`
	ExternalOrderID string `json:"order_id"`
	LineItems       []struct {
		ExternalProductID string `json:"product_id"`
		Price              string `json:"price"`
		Quantity           int64  `json:"quantity"`
	} `json:"line_items"`
	NoteAttributes []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"note_attributes"`
}

// sessionID extracts the session id from the order's note attributes.
// Returns "" when absent, which the attribution pipeline treats as "no
// attribution possible" rather than an error, per spec §4.5 step 1.
func (p orderCreatePayload) sessionID() string {
	for _, attr := range p.NoteAttributes {
		if attr.Name == sessionNoteAttributeName {
			return attr.Value
		}
	}
	return ""
}

type shopRedactPayload struct {
	Shop string `json:"shop"`
}

// OrderCreate processes an order-create webhook delivery.
func (c *WebhookController) OrderCreate(ctx *gin.Context) {
	body, ok := c.verifiedBody(ctx)
	if !ok {
		return
	}

	var payload orderCreatePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid webhook payload", Details: err.Error()})
		return
	}
	if payload.Shop == "" || payload.ExternalOrderID == "" {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "shop and order_id are required"})
		return
	}

	webhook := attribution.OrderWebhook{
		Shop:            payload.Shop,
		ExternalOrderID: payload.ExternalOrderID,
		SessionID:       payload.sessionID(),
	}
	for _, item := range payload.LineItems {
		price, err := decimal.NewFromString(item.Price)
		if err != nil {
			continue
		}
		webhook.LineItems = append(webhook.LineItems, attribution.OrderLineItem{
			ExternalProductID: item.ExternalProductID,
			UnitPrice:          price,
			Quantity:           item.Quantity,
		})
	}

	if err := c.pipeline.Apply(ctx.Request.Context(), webhook); err != nil {
		c.logger.Error("order webhook processing failed", zap.String("shop", payload.Shop), zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to process order webhook"})
		return
	}
	ctx.Status(http.StatusOK)
}

// ShopRedact processes a GDPR-style shop/redact webhook by cascading
// a full tenant purge.
func (c *WebhookController) ShopRedact(ctx *gin.Context) {
	body, ok := c.verifiedBody(ctx)
	if !ok {
		return
	}

	var payload shopRedactPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid webhook payload", Details: err.Error()})
		return
	}
	if payload.Shop == "" {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "shop is required"})
		return
	}

	if err := c.shopPurger.DeleteAllShopData(payload.Shop); err != nil {
		c.logger.Error("shop redact failed", zap.String("shop", payload.Shop), zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to purge shop data"})
		return
	}
	ctx.Status(http.StatusOK)
}

// verifiedBody reads the raw request body, verifies its HMAC-SHA256
// signature in constant time, and returns the bytes for the caller to
// parse. Responds and returns ok=false on any failure.
func (c *WebhookController) verifiedBody(ctx *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(ctx.Request.Body)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "failed to read request body"})
		return nil, false
	}

	signature := ctx.GetHeader("X-Webhook-Signature")
	if signature == "" || !c.validSignature(body, signature) {
		c.logger.Warn("webhook signature verification failed", zap.String("path", ctx.Request.URL.Path))
		ctx.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid webhook signature"})
		return nil, false
	}

	return body, true
}

func (c *WebhookController) validSignature(body []byte, signatureHeader string) bool {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signatureHeader)) == 1
}
