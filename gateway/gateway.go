// Package gateway is the websocket edge: it authenticates sockets,
// registers presence, replays missed messages, and turns inbound frames
// into validated operations. It never persists messages itself; send
// requests are handed to the ingestion queue and acknowledged
// asynchronously by the fan-out workers.
package gateway

import (
	"context"
	"encoding/json"
	goerrors "errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"market-chat/contract"
	"market-chat/domain"
	"market-chat/domain/event"
	"market-chat/errors"
	"market-chat/observability"
	"market-chat/repositories"
	"market-chat/search"
)

type Gateway struct {
	upgrader websocket.Upgrader
	verifier contract.ITokenVerifier
	users    repositories.IUserRepository
	chats    repositories.IChatRepository
	messages repositories.IMessageRepository
	presence contract.IPresenceStore
	queue    contract.IIngestionQueue
	registry *Registry
	replayer *Replayer
	index    *search.MessageIndex
	validate *validator.Validate
	log      *slog.Logger
	stats    *observability.Manager
}

func NewGateway(
	verifier contract.ITokenVerifier,
	users repositories.IUserRepository,
	chats repositories.IChatRepository,
	messages repositories.IMessageRepository,
	presence contract.IPresenceStore,
	queue contract.IIngestionQueue,
	registry *Registry,
	replayer *Replayer,
	index *search.MessageIndex,
	allowedOrigins []string,
	log *slog.Logger,
	stats *observability.Manager,
) *Gateway {
	return &Gateway{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowedOrigins) == 0 {
					return true
				}
				return lo.Contains(allowedOrigins, r.Header.Get("Origin"))
			},
		},
		verifier: verifier,
		users:    users,
		chats:    chats,
		messages: messages,
		presence: presence,
		queue:    queue,
		registry: registry,
		replayer: replayer,
		index:    index,
		validate: validator.New(),
		log:      log,
		stats:    stats,
	}
}

// HandleWS upgrades first and authenticates second, so auth failures
// can be reported as an error frame on the socket instead of an opaque
// handshake rejection the browser cannot read.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	sock, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Debug("Websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	userID, err := g.authenticate(r)
	if err != nil {
		g.rejectSocket(sock, err)
		return
	}

	conn := newConn(uuid.NewString(), userID, sock, g.log)
	g.registry.Add(conn)
	if err := g.presence.Save(r.Context(), userID, conn.ID); err != nil {
		g.log.Error("Failed to save presence", "user_id", userID, "err", err)
	}
	g.stats.ConnectionOpened()
	g.log.Info("User connected", "user_id", userID, "connection_id", conn.ID)

	go conn.writePump()

	since := parseSince(r.URL.Query().Get("lastMessageCreatedAt"))
	go func() {
		if err := g.replayer.Replay(conn.Context(), conn.ID, userID, since); err != nil &&
			!goerrors.Is(err, context.Canceled) {
			g.log.Error("Replay failed", "user_id", userID, "err", err)
		}
	}()

	conn.readPump(
		func(frame Frame) { g.dispatch(conn, frame) },
		func() {
			if err := g.presence.Refresh(conn.Context(), userID, conn.ID); err != nil {
				g.log.Debug("Presence refresh failed", "user_id", userID, "err", err)
			}
		},
	)

	// readPump returned: the socket is gone.
	g.registry.Remove(conn.ID)
	if err := g.presence.Remove(context.Background(), userID, conn.ID); err != nil {
		g.log.Warn("Failed to remove presence", "user_id", userID, "err", err)
	}
	g.stats.ConnectionClosed()
	g.log.Info("User disconnected", "user_id", userID, "connection_id", conn.ID)
}

func (g *Gateway) authenticate(r *http.Request) (string, error) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" || token == r.Header.Get("Authorization") {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return "", errors.ErrUnauthorized
	}

	userID, err := g.verifier.Verify(token)
	if err != nil {
		return "", err
	}
	if _, err := g.users.GetByID(userID); err != nil {
		return "", errors.ErrUserNotFound
	}
	return userID, nil
}

// rejectSocket reports the failure on the freshly upgraded socket and
// closes it; the connection was never registered anywhere.
func (g *Gateway) rejectSocket(sock *websocket.Conn, reason error) {
	g.log.Warn("Rejected websocket connection", "reason", reason)
	_ = sock.SetWriteDeadline(time.Now().Add(writeWait))
	_ = sock.WriteJSON(map[string]any{
		"event": event.Error,
		"data":  event.ErrorPayload{Error: reason.Error()},
	})
	_ = sock.Close()
}

func (g *Gateway) dispatch(conn *Conn, frame Frame) {
	switch frame.Event {
	case event.SendMessage:
		g.handleSendMessage(conn, frame)
	case event.SyncMessages:
		g.handleSyncMessages(conn, frame)
	case event.MarkAsRead:
		g.handleMarkAsRead(conn, frame)
	case event.SearchMessages:
		g.handleSearchMessages(conn, frame)
	default:
		g.pushError(conn, "Unknown event: "+frame.Event, nil, nil)
	}
}

// handleSendMessage validates and enqueues. Nothing is persisted here:
// the messageSent acknowledgement arrives from the fan-out worker once
// the message is durable.
func (g *Gateway) handleSendMessage(conn *Conn, frame Frame) {
	var payload SendMessagePayload
	if err := g.decode(frame, &payload); err != nil {
		// Echo whatever correlation fields did decode so the client can
		// fail the right pending request.
		g.pushError(conn, "Invalid sendMessage payload",
			optional(payload.ClientRequestID), optional(payload.ChatID))
		return
	}
	requestID := optional(payload.ClientRequestID)

	chat, err := g.resolveChat(conn.UserID, payload)
	if err != nil {
		g.pushError(conn, err.Error(), requestID, optional(payload.ChatID))
		return
	}

	job := domain.ChatJob{
		ChatID:          chat.ID,
		SenderID:        conn.UserID,
		Content:         payload.Content,
		ParticipantIDs:  chat.ParticipantIDs(),
		ClientRequestID: payload.ClientRequestID,
	}
	if err := g.queue.Enqueue(conn.Context(), job); err != nil {
		g.log.Error("Failed to enqueue chat job", "chat_id", chat.ID, "err", err)
		g.pushError(conn, "Failed to accept message", requestID, optional(chat.ID.String()))
	}
}

// resolveChat picks the target chat: an explicit chatId the sender must
// belong to, or a direct chat with recipientId that is created on
// first contact. An explicit chatId that fails to resolve is an error
// even when a recipientId is also present; silently rerouting the
// message to a different chat than the one named would hide the
// client's stale state.
func (g *Gateway) resolveChat(senderID string, payload SendMessagePayload) (domain.Chat, error) {
	switch {
	case payload.ChatID != "":
		chatID, err := uuid.Parse(payload.ChatID)
		if err != nil {
			return domain.Chat{}, errors.ErrChatNotFound
		}
		chat, err := g.chats.GetByID(chatID)
		if err != nil {
			return domain.Chat{}, errors.ErrChatNotFound
		}
		if !chat.HasParticipant(senderID) {
			return domain.Chat{}, errors.ErrNotParticipant
		}
		return chat, nil
	case payload.RecipientID != "":
		return g.chats.FindOrCreateDirect(senderID, payload.RecipientID)
	default:
		return domain.Chat{}, errors.ErrMissingRecipient
	}
}

func (g *Gateway) handleSyncMessages(conn *Conn, frame Frame) {
	var payload SyncMessagesPayload
	if err := g.decode(frame, &payload); err != nil {
		g.pushError(conn, "Invalid syncMessages payload", nil, nil)
		return
	}

	since := parseSince(payload.cursor())
	if err := g.replayer.Replay(conn.Context(), conn.ID, conn.UserID, since); err != nil &&
		!goerrors.Is(err, context.Canceled) {
		g.log.Error("Sync failed", "user_id", conn.UserID, "err", err)
		g.pushError(conn, "Failed to sync messages", nil, nil)
	}
}

// handleMarkAsRead flips the message to READ and tells the original
// sender, if they are online right now. The reader always gets a local
// acknowledgement.
func (g *Gateway) handleMarkAsRead(conn *Conn, frame Frame) {
	var payload MarkAsReadPayload
	if err := g.decode(frame, &payload); err != nil {
		g.pushError(conn, "Invalid markAsRead payload", nil, nil)
		return
	}

	messageID, err := uuid.Parse(payload.MessageID)
	if err != nil {
		g.pushError(conn, errors.ErrMessageNotFound.Error(), nil, nil)
		return
	}
	message, err := g.messages.MarkRead(messageID, time.Now().UTC())
	if err != nil {
		g.pushError(conn, errors.ErrMessageNotFound.Error(), nil, nil)
		return
	}

	if message.SenderID != conn.UserID && message.ReadAt != nil {
		connectionID, err := g.presence.Get(conn.Context(), message.SenderID)
		if err == nil && connectionID != "" {
			if g.registry.Push(connectionID, event.MessageRead, event.MessageReadPayload{
				MessageID: message.ID.String(),
				ReadAt:    *message.ReadAt,
				ReadBy:    conn.UserID,
			}) {
				g.stats.EventDelivered()
			}
		}
	}

	conn.SendJSON(event.MessageMarkedAsRead, event.MessageMarkedAsReadPayload{
		Success:   true,
		MessageID: message.ID.String(),
	})
}

func (g *Gateway) handleSearchMessages(conn *Conn, frame Frame) {
	var payload SearchMessagesPayload
	if err := g.decode(frame, &payload); err != nil {
		g.pushError(conn, "Invalid searchMessages payload", nil, nil)
		return
	}
	if g.index == nil {
		g.pushError(conn, "Search is not available", nil, optional(payload.ChatID))
		return
	}

	chatID, err := uuid.Parse(payload.ChatID)
	if err != nil {
		g.pushError(conn, errors.ErrChatNotFound.Error(), nil, optional(payload.ChatID))
		return
	}
	chat, err := g.chats.GetByID(chatID)
	if err != nil {
		g.pushError(conn, errors.ErrChatNotFound.Error(), nil, optional(payload.ChatID))
		return
	}
	if !chat.HasParticipant(conn.UserID) {
		g.pushError(conn, errors.ErrNotParticipant.Error(), nil, optional(payload.ChatID))
		return
	}

	limit := payload.Limit
	if limit == 0 {
		limit = 20
	}
	ids, err := g.index.Search(conn.Context(), chatID, payload.Query, limit)
	if err != nil {
		g.log.Error("Search failed", "chat_id", chatID, "err", err)
		g.pushError(conn, "Search failed", nil, optional(payload.ChatID))
		return
	}

	hits := make([]domain.Message, 0, len(ids))
	for _, id := range ids {
		message, err := g.messages.GetByID(id)
		if err != nil {
			// Index entries can outlive their messages; skip the hole.
			continue
		}
		hits = append(hits, message)
	}

	conn.SendJSON(event.SearchResults, event.SearchResultsPayload{
		ChatID:   payload.ChatID,
		Query:    payload.Query,
		Messages: hits,
	})
}

func (g *Gateway) decode(frame Frame, into any) error {
	if len(frame.Data) > 0 {
		if err := json.Unmarshal(frame.Data, into); err != nil {
			return err
		}
	}
	return g.validate.Struct(into)
}

func (g *Gateway) pushError(conn *Conn, message string, requestID, chatID *string) {
	conn.SendJSON(event.Error, event.ErrorPayload{
		Error:           message,
		ClientRequestID: requestID,
		ChatID:          chatID,
	})
}

// parseSince accepts RFC 3339 or unix milliseconds and tolerates
// garbage: a client that cannot say when it last synced just gets the
// full replay.
func parseSince(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	if millis, err := strconv.ParseInt(value, 10, 64); err == nil && millis > 0 {
		return time.UnixMilli(millis).UTC()
	}
	return time.Time{}
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
