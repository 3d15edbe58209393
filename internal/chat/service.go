package chat

import (
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"chatpulse/internal/auth"
	"chatpulse/internal/realtime"
	"chatpulse/internal/web"
)

const (
	defaultHistory = 50
	maxHistory     = 200
)

// Notifier is the slice of the realtime engine the chat layer pushes
// through once a change is persisted.
type Notifier interface {
	Online() []realtime.Identity
	NotifyDirectMessage(recipient realtime.Identity, msg any) error
	NotifyGroupMessage(room realtime.RoomID, msg any, sender realtime.Identity) error
	NotifyGroupCreated(members []realtime.Identity, group any) error
	NotifyGroupUpdate(members []realtime.Identity, group any) error
	NotifyMemberAdded(added []realtime.Identity, group any) error
	NotifyMemberRemoved(room realtime.RoomID, removed realtime.Identity) error
}

type Service struct {
	store  Store
	notify Notifier
	log    *zap.Logger
}

func NewService(store Store, notify Notifier, log *zap.Logger) *Service {
	return &Service{store: store, notify: notify, log: log}
}

func (s *Service) Presence(w http.ResponseWriter, r *http.Request) {
	online := s.notify.Online()
	if online == nil {
		online = []realtime.Identity{}
	}
	web.JSON(w, http.StatusOK, map[string]any{"online": online})
}

type messageInput struct {
	Text  string `json:"text"`
	Image string `json:"image"`
}

func (in messageInput) empty() bool {
	return strings.TrimSpace(in.Text) == "" && strings.TrimSpace(in.Image) == ""
}

func (s *Service) SendDirect(w http.ResponseWriter, r *http.Request) {
	uid := auth.UserID(r)
	receiver, err := realtime.ParseIdentity(web.Param(r, "receiverId"))
	if err != nil {
		http.Error(w, "bad receiver", http.StatusBadRequest)
		return
	}
	var in messageInput
	if err := web.DecodeJSON(r, &in); err != nil || in.empty() {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}
	msg, err := s.store.CreateDirectMessage(r.Context(), Message{
		SenderID:   uid,
		ReceiverID: string(receiver),
		Text:       in.Text,
		Image:      in.Image,
	})
	if err != nil {
		s.internal(w, "send direct message", err)
		return
	}
	s.warn("notify direct message", s.notify.NotifyDirectMessage(receiver, msg))
	web.JSON(w, http.StatusCreated, msg)
}

func (s *Service) DirectHistory(w http.ResponseWriter, r *http.Request) {
	uid := auth.UserID(r)
	peer, err := realtime.ParseIdentity(web.Param(r, "peerId"))
	if err != nil {
		http.Error(w, "bad peer", http.StatusBadRequest)
		return
	}
	items, err := s.store.DirectHistory(r.Context(), uid, string(peer), historyLimit(r))
	if err != nil {
		s.internal(w, "direct history", err)
		return
	}
	web.JSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Service) CreateGroup(w http.ResponseWriter, r *http.Request) {
	uid := auth.UserID(r)
	var in struct {
		Name        string   `json:"name"`
		Description string   `json:"description"`
		GroupImage  string   `json:"groupImage"`
		Members     []string `json:"members"`
	}
	if err := web.DecodeJSON(r, &in); err != nil {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(in.Name) == "" {
		http.Error(w, "group name is required", http.StatusBadRequest)
		return
	}
	if len(in.Members) == 0 {
		http.Error(w, "select at least one member", http.StatusBadRequest)
		return
	}
	members, err := memberList(in.Members)
	if err != nil {
		http.Error(w, "invalid member id", http.StatusBadRequest)
		return
	}
	members = appendUnique(members, uid)

	g, err := s.store.CreateGroup(r.Context(), Group{
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		GroupImage:  in.GroupImage,
		AdminID:     uid,
		Members:     members,
	})
	if err != nil {
		s.internal(w, "create group", err)
		return
	}
	s.warn("notify group created", s.notify.NotifyGroupCreated(identities(g.Members), g))
	web.JSON(w, http.StatusCreated, g)
}

func (s *Service) ListGroups(w http.ResponseWriter, r *http.Request) {
	items, err := s.store.GroupsOf(r.Context(), auth.UserID(r))
	if err != nil {
		s.internal(w, "list groups", err)
		return
	}
	if items == nil {
		items = []Group{}
	}
	web.JSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Service) UpdateGroup(w http.ResponseWriter, r *http.Request) {
	uid := auth.UserID(r)
	g, ok := s.loadGroup(w, r)
	if !ok {
		return
	}
	if g.AdminID != uid {
		http.Error(w, "only the admin can update group details", http.StatusForbidden)
		return
	}
	var in struct {
		Name        *string `json:"name"`
		Description *string `json:"description"`
		GroupImage  *string `json:"groupImage"`
	}
	if err := web.DecodeJSON(r, &in); err != nil {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}
	if in.Name != nil && strings.TrimSpace(*in.Name) != "" {
		g.Name = strings.TrimSpace(*in.Name)
	}
	if in.Description != nil {
		g.Description = *in.Description
	}
	if in.GroupImage != nil && *in.GroupImage != "" {
		g.GroupImage = *in.GroupImage
	}
	updated, err := s.store.UpdateGroup(r.Context(), g)
	if err != nil {
		s.internal(w, "update group", err)
		return
	}
	s.warn("notify group update", s.notify.NotifyGroupUpdate(identities(updated.Members), updated))
	web.JSON(w, http.StatusOK, updated)
}

func (s *Service) AddMembers(w http.ResponseWriter, r *http.Request) {
	uid := auth.UserID(r)
	var in struct {
		Members []string `json:"members"`
	}
	if err := web.DecodeJSON(r, &in); err != nil || len(in.Members) == 0 {
		http.Error(w, "provide members to add", http.StatusBadRequest)
		return
	}
	requested, err := memberList(in.Members)
	if err != nil {
		http.Error(w, "invalid member id", http.StatusBadRequest)
		return
	}
	g, ok := s.loadGroup(w, r)
	if !ok {
		return
	}
	if g.AdminID != uid {
		http.Error(w, "only the admin can add members", http.StatusForbidden)
		return
	}
	var added []string
	for _, m := range requested {
		if !g.HasMember(m) {
			added = append(added, m)
		}
	}
	if len(added) == 0 {
		http.Error(w, "all users are already members of this group", http.StatusBadRequest)
		return
	}
	updated, err := s.store.AddMembers(r.Context(), g.ID, added)
	if err != nil {
		s.internal(w, "add members", err)
		return
	}
	s.warn("notify group update", s.notify.NotifyGroupUpdate(identities(updated.Members), updated))
	s.warn("notify member added", s.notify.NotifyMemberAdded(identities(added), updated))
	web.JSON(w, http.StatusOK, updated)
}

func (s *Service) RemoveMember(w http.ResponseWriter, r *http.Request) {
	uid := auth.UserID(r)
	memberID := web.Param(r, "memberId")
	g, ok := s.loadGroup(w, r)
	if !ok {
		return
	}
	if g.AdminID != uid && uid != memberID {
		http.Error(w, "you don't have permission to remove this member", http.StatusForbidden)
		return
	}
	if !g.HasMember(memberID) {
		http.Error(w, "user is not a member of this group", http.StatusBadRequest)
		return
	}

	newAdmin := ""
	if g.AdminID == memberID {
		for _, m := range g.Members {
			if m != memberID {
				newAdmin = m
				break
			}
		}
		if newAdmin == "" {
			if err := s.store.DeleteGroup(r.Context(), g.ID); err != nil {
				s.internal(w, "delete group", err)
				return
			}
			s.warn("drop room listener", s.notify.NotifyMemberRemoved(realtime.RoomID(g.ID), realtime.Identity(memberID)))
			web.JSON(w, http.StatusOK, map[string]any{"message": "group deleted as you were the only member"})
			return
		}
	}

	updated, err := s.store.RemoveMember(r.Context(), g.ID, memberID, newAdmin)
	if err != nil {
		s.internal(w, "remove member", err)
		return
	}
	s.warn("notify group update", s.notify.NotifyGroupUpdate(identities(updated.Members), updated))
	s.warn("notify member removed", s.notify.NotifyMemberRemoved(realtime.RoomID(g.ID), realtime.Identity(memberID)))
	web.JSON(w, http.StatusOK, updated)
}

func (s *Service) SendGroupMessage(w http.ResponseWriter, r *http.Request) {
	uid := auth.UserID(r)
	g, ok := s.loadGroup(w, r)
	if !ok {
		return
	}
	if !g.HasMember(uid) {
		http.Error(w, "you are not a member of this group", http.StatusForbidden)
		return
	}
	var in messageInput
	if err := web.DecodeJSON(r, &in); err != nil || in.empty() {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}
	msg, err := s.store.CreateGroupMessage(r.Context(), Message{
		SenderID: uid,
		GroupID:  g.ID,
		Text:     in.Text,
		Image:    in.Image,
	})
	if err != nil {
		s.internal(w, "send group message", err)
		return
	}
	s.warn("notify group message", s.notify.NotifyGroupMessage(realtime.RoomID(g.ID), msg, realtime.Identity(uid)))
	web.JSON(w, http.StatusCreated, msg)
}

func (s *Service) GroupHistory(w http.ResponseWriter, r *http.Request) {
	uid := auth.UserID(r)
	g, ok := s.loadGroup(w, r)
	if !ok {
		return
	}
	if !g.HasMember(uid) {
		http.Error(w, "you are not a member of this group", http.StatusForbidden)
		return
	}
	items, err := s.store.GroupHistory(r.Context(), g.ID, historyLimit(r))
	if err != nil {
		s.internal(w, "group history", err)
		return
	}
	web.JSON(w, http.StatusOK, map[string]any{"items": items})
}

// --- helpers ---

func (s *Service) loadGroup(w http.ResponseWriter, r *http.Request) (Group, bool) {
	id := web.Param(r, "id")
	if id == "" {
		http.Error(w, "bad id", http.StatusBadRequest)
		return Group{}, false
	}
	g, err := s.store.Group(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		http.Error(w, "group chat not found", http.StatusNotFound)
		return Group{}, false
	}
	if err != nil {
		s.internal(w, "load group", err)
		return Group{}, false
	}
	return g, true
}

func (s *Service) internal(w http.ResponseWriter, op string, err error) {
	s.log.Error(op, zap.Error(err))
	http.Error(w, "internal server error", http.StatusInternalServerError)
}

// warn logs a failed push. The change is already persisted, so the
// request still succeeds.
func (s *Service) warn(op string, err error) {
	if err != nil {
		s.log.Warn(op, zap.Error(err))
	}
}

func historyLimit(r *http.Request) int {
	limit := web.QueryInt(r, "limit", defaultHistory)
	if limit <= 0 || limit > maxHistory {
		limit = defaultHistory
	}
	return limit
}

func memberList(raw []string) ([]string, error) {
	ids, err := realtime.Identities(raw)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = appendUnique(out, string(id))
	}
	return out, nil
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

func identities(ids []string) []realtime.Identity {
	out := make([]realtime.Identity, len(ids))
	for i, id := range ids {
		out[i] = realtime.Identity(id)
	}
	return out
}
