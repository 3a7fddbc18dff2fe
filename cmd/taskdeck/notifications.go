package main

import (
	"github.com/broady/taskdeck/notify"
)

type NotificationsCmd struct {
	Unread bool `help:"Only unread notifications."`
	Read   bool `help:"Mark all notifications read after listing them." xor:"action"`
	Clear  bool `help:"Delete all notifications." xor:"action"`
}

func (c *NotificationsCmd) Run(g *Globals, env *Env) error {
	return withSession(g, env, func(s *session) error {
		if c.Clear {
			s.notes.ClearAll()
			s.out.Printf("Notifications cleared.\n")
			return nil
		}

		list := s.notes.List()
		if c.Unread {
			var unread []notify.Notification
			for _, n := range list {
				if !n.Read {
					unread = append(unread, n)
				}
			}
			list = unread
		}
		s.out.notificationList(list)
		if c.Read {
			s.notes.MarkAllRead()
		} else if n := s.notes.Unread(); n > 0 && !c.Unread {
			s.out.Printf("%d unread\n", n)
		}
		return nil
	})
}
