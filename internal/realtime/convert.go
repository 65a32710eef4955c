package realtime

import (
	v1 "nightline/contracts/v1"
	"nightline/internal/repo"
)

func contentFromWire(c v1.Content) repo.Content {
	return repo.Content{Encrypted: c.Encrypted, Nonce: c.Nonce}
}

func contentToWire(c repo.Content) v1.Content {
	return v1.Content{Encrypted: c.Encrypted, Nonce: c.Nonce}
}

func attachmentsFromWire(in []v1.Attachment) []repo.Attachment {
	if in == nil {
		return nil
	}
	out := make([]repo.Attachment, len(in))
	for i, a := range in {
		out[i] = repo.Attachment{Name: a.Name, Size: a.Size, Type: a.Type, Link: a.Link}
	}
	return out
}

func attachmentsToWire(in []repo.Attachment) []v1.Attachment {
	if in == nil {
		return nil
	}
	out := make([]v1.Attachment, len(in))
	for i, a := range in {
		out[i] = v1.Attachment{Name: a.Name, Size: a.Size, Type: a.Type, Link: a.Link}
	}
	return out
}

func reactionsFromWire(in *v1.Reactions) repo.Reactions {
	if in == nil {
		return repo.Reactions{}
	}
	return repo.Reactions{From: in.From, To: in.To}
}

func reactionsToWire(in repo.Reactions) v1.Reactions {
	return v1.Reactions{From: in.From, To: in.To}
}

func messageToView(m repo.Message) v1.MessageView {
	view := v1.MessageView{
		ID:               m.ID,
		Conversation:     m.Conversation,
		Kind:             m.Kind,
		Type:             m.Type,
		Parent:           m.Parent,
		User:             m.User,
		RecipientContent: contentToWire(m.RecipientContent),
		SenderContent:    contentToWire(m.SenderContent),
		Status:           m.Status,
		Attachments:      attachmentsToWire(m.Attachments),
		Images:           m.Images,
		Videos:           m.Videos,
		Audio:            m.Audio,
		Reactions:        reactionsToWire(m.Reactions),
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
	if m.Reply != nil {
		view.Reply = &v1.ReplyView{
			RecipientContent: contentToWire(m.Reply.RecipientContent),
			SenderContent:    contentToWire(m.Reply.SenderContent),
		}
	}
	return view
}
