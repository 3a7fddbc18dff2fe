package main

import (
	"github.com/broady/taskdeck"
)

type LoginCmd struct {
	Email    string `arg:"" help:"Account email."`
	Password string `help:"Account password." env:"TASKDECK_PASSWORD" required:""`
}

func (c *LoginCmd) Run(g *Globals, env *Env) error {
	return withSession(g, env, func(s *session) error {
		if s.sessions.Session().SignedIn() {
			// Cached tasks belong to the previous account.
			s.svc.Logout(s.ctx)
		}
		sess, err := s.svc.Login(s.ctx, taskdeck.LoginRequest{Email: c.Email, Password: c.Password})
		if err != nil {
			return err
		}
		s.out.Printf("Signed in as %s <%s>\n", sess.User.Name, sess.User.Email)
		return nil
	})
}

type SignupCmd struct {
	Name     string `arg:"" help:"Display name."`
	Email    string `arg:"" help:"Account email."`
	Password string `help:"Account password, at least 6 characters." env:"TASKDECK_PASSWORD" required:""`
}

func (c *SignupCmd) Run(g *Globals, env *Env) error {
	return withSession(g, env, func(s *session) error {
		if s.sessions.Session().SignedIn() {
			s.svc.Logout(s.ctx)
		}
		sess, err := s.svc.Signup(s.ctx, taskdeck.SignupRequest{Name: c.Name, Email: c.Email, Password: c.Password})
		if err != nil {
			return err
		}
		s.out.Printf("Welcome, %s! Signed in as %s\n", sess.User.Name, sess.User.Email)
		return nil
	})
}

type LogoutCmd struct{}

func (c *LogoutCmd) Run(g *Globals, env *Env) error {
	return withSession(g, env, func(s *session) error {
		if !s.sessions.Session().SignedIn() {
			s.out.Printf("Not signed in.\n")
			return nil
		}
		s.svc.Logout(s.ctx)
		s.out.Printf("Signed out.\n")
		return nil
	})
}
