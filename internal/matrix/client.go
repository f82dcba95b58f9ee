package matrix

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

const requestTimeout = 10 * time.Second

// Client wraps a mautrix client authenticated with the appservice token.
// Impersonation of puppet users is done with the ?user_id= query parameter;
// the underlying mautrix client is stateful about which user it acts as, so a
// mutex serializes the swap.
type Client struct {
	log        zerolog.Logger
	homeserver string
	bot        id.UserID

	mu  sync.Mutex
	cli *mautrix.Client
}

func NewClient(baseURL, homeserver, asToken, botLocalpart string, log zerolog.Logger) (*Client, error) {
	bot := id.NewUserID(botLocalpart, homeserver)
	cli, err := mautrix.NewClient(strings.TrimSuffix(baseURL, "/"), bot, asToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create matrix client: %w", err)
	}
	cli.SetAppServiceUserID = true
	cli.Client = &http.Client{Timeout: requestTimeout}
	cli.Log = log
	return &Client{
		log:        log,
		homeserver: homeserver,
		bot:        bot,
		cli:        cli,
	}, nil
}

func (c *Client) Homeserver() string {
	return c.homeserver
}

func (c *Client) BotMXID() id.UserID {
	return c.bot
}

// as runs fn with the client acting as the given user.
func (c *Client) as(userID id.UserID, fn func(cli *mautrix.Client) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cli.UserID = userID
	defer func() {
		c.cli.UserID = c.bot
	}()
	return fn(c.cli)
}

func errcodeIs(err error, errcode string) bool {
	var httpErr mautrix.HTTPError
	return errors.As(err, &httpErr) && httpErr.RespError != nil && httpErr.RespError.ErrCode == errcode
}

// LookupRoomByAlias resolves a local alias ("os_xxxxxxxx") to a room ID.
// Returns an empty room ID when the homeserver does not know the alias.
func (c *Client) LookupRoomByAlias(ctx context.Context, aliasLocal string) (id.RoomID, error) {
	alias := id.NewRoomAlias(aliasLocal, c.homeserver)
	var roomID id.RoomID
	err := c.as(c.bot, func(cli *mautrix.Client) error {
		resp, err := cli.ResolveAlias(ctx, alias)
		if err != nil {
			var httpErr mautrix.HTTPError
			if errors.As(err, &httpErr) && httpErr.Response != nil {
				return nil
			}
			return err
		}
		roomID = resp.RoomID
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to resolve alias %s: %w", alias, err)
	}
	return roomID, nil
}

func (c *Client) CreateRoom(ctx context.Context, req *mautrix.ReqCreateRoom) (id.RoomID, error) {
	var roomID id.RoomID
	err := c.as(c.bot, func(cli *mautrix.Client) error {
		resp, err := cli.CreateRoom(ctx, req)
		if err != nil {
			return err
		}
		roomID = resp.RoomID
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to create room: %w", err)
	}
	return roomID, nil
}

// Invite invites the target into the room as the bridge bot.
func (c *Client) Invite(ctx context.Context, roomID id.RoomID, target id.UserID) error {
	return c.as(c.bot, func(cli *mautrix.Client) error {
		_, err := cli.InviteUser(ctx, roomID, &mautrix.ReqInviteUser{UserID: target})
		return err
	})
}

// JoinAs joins the room as the given puppet. Already being in the room is
// not an error.
func (c *Client) JoinAs(ctx context.Context, roomID id.RoomID, userID id.UserID) error {
	err := c.as(userID, func(cli *mautrix.Client) error {
		_, err := cli.JoinRoomByID(ctx, roomID)
		return err
	})
	if err != nil && !errcodeIs(err, "M_ALREADY_JOINED") {
		return fmt.Errorf("failed to join %s as %s: %w", roomID, userID, err)
	}
	return nil
}

func (c *Client) GetProfileAs(ctx context.Context, userID id.UserID) (*mautrix.RespUserProfile, error) {
	var profile *mautrix.RespUserProfile
	err := c.as(userID, func(cli *mautrix.Client) error {
		var err error
		profile, err = cli.GetProfile(ctx, userID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get profile of %s: %w", userID, err)
	}
	return profile, nil
}

func (c *Client) SetDisplayNameAs(ctx context.Context, userID id.UserID, name string) error {
	return c.as(userID, func(cli *mautrix.Client) error {
		return cli.SetDisplayName(ctx, name)
	})
}

func (c *Client) SetAvatarURLAs(ctx context.Context, userID id.UserID, mxc id.ContentURI) error {
	return c.as(userID, func(cli *mautrix.Client) error {
		return cli.SetAvatarURL(ctx, mxc)
	})
}

func (c *Client) UploadMediaAs(ctx context.Context, userID id.UserID, data []byte, mime string) (id.ContentURI, error) {
	var mxc id.ContentURI
	err := c.as(userID, func(cli *mautrix.Client) error {
		resp, err := cli.UploadMedia(ctx, mautrix.ReqUploadMedia{
			ContentBytes: data,
			ContentType:  mime,
		})
		if err != nil {
			return err
		}
		mxc = resp.ContentURI
		return nil
	})
	if err != nil {
		return id.ContentURI{}, fmt.Errorf("failed to upload media as %s: %w", userID, err)
	}
	return mxc, nil
}

func (c *Client) GetPowerLevels(ctx context.Context, roomID id.RoomID) (*event.PowerLevelsEventContent, error) {
	var pl event.PowerLevelsEventContent
	err := c.as(c.bot, func(cli *mautrix.Client) error {
		return cli.StateEvent(ctx, roomID, event.StatePowerLevels, "", &pl)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get power levels of %s: %w", roomID, err)
	}
	return &pl, nil
}

func (c *Client) SetPowerLevelsAs(ctx context.Context, userID id.UserID, roomID id.RoomID, pl *event.PowerLevelsEventContent) error {
	err := c.as(userID, func(cli *mautrix.Client) error {
		_, err := cli.SendStateEvent(ctx, roomID, event.StatePowerLevels, "", pl)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to set power levels of %s: %w", roomID, err)
	}
	return nil
}

func (c *Client) SendMessageAs(ctx context.Context, userID id.UserID, roomID id.RoomID, txnID string, content *event.MessageEventContent) error {
	err := c.as(userID, func(cli *mautrix.Client) error {
		_, err := cli.SendMessageEvent(ctx, roomID, event.EventMessage, content, mautrix.ReqSendEvent{
			TransactionID: txnID,
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to send message to %s as %s: %w", roomID, userID, err)
	}
	return nil
}

// RegisterPuppet registers the puppet localpart through the appservice
// registration endpoint. An already-registered localpart is success.
func (c *Client) RegisterPuppet(ctx context.Context, localpart string) error {
	err := c.as(c.bot, func(cli *mautrix.Client) error {
		_, _, err := cli.Register(ctx, &mautrix.ReqRegister{
			Username:     localpart,
			Type:         mautrix.AuthTypeAppservice,
			InhibitLogin: true,
		})
		return err
	})
	if err != nil && !errors.Is(err, mautrix.MUserInUse) {
		return fmt.Errorf("failed to register puppet %s: %w", localpart, err)
	}
	return nil
}
