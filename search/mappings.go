package search

import (
	"forum-search-backend/base"
	"forum-search-backend/forum"

	"github.com/stevenferrer/solr-go"
)

const (
	fieldID        = "id"
	fieldTid       = "tid_i"
	fieldCid       = "cid_i"
	fieldUid       = "uid_i"
	fieldTimestamp = "timestamp_l"
)

// Fields names the text fields titles and post contents are indexed into.
type Fields struct {
	Title   string
	Content string
}

func schemaFields(f Fields) []solr.Field {
	return []solr.Field{
		{Name: fieldTid, Type: "pint", Indexed: true, Stored: true},
		{Name: fieldCid, Type: "pint", Indexed: true, Stored: true},
		{Name: fieldUid, Type: "pint", Indexed: true, Stored: true},
		{Name: fieldTimestamp, Type: "plong", Indexed: true, Stored: true},
		{Name: f.Title, Type: "text_general", Indexed: true, Stored: true},
		{Name: f.Content, Type: "text_general", Indexed: true, Stored: true},
	}
}

func schemaCopyFields(f Fields) []solr.CopyField {
	return []solr.CopyField{
		{Source: f.Title, Dest: "_text_"},
		{Source: f.Content, Dest: "_text_"},
	}
}

// PostDocument maps a post and its topic to a Solr document. The main post of a
// topic carries the topic title so topics are found by title.
func PostDocument(f Fields, topic *forum.Topic, post *forum.Post) Document {
	doc := Document{
		fieldID:        base.FormatID(post.Pid),
		fieldTid:       post.Tid,
		fieldUid:       post.Uid,
		fieldTimestamp: post.Timestamp,
		f.Content:      post.Content,
	}
	if topic != nil {
		doc[fieldCid] = topic.Cid
		if topic.MainPid == post.Pid {
			doc[f.Title] = topic.Title
		}
	}
	return doc
}

// Indexable reports whether a post belongs in the index: neither the post nor its topic is deleted.
func Indexable(topic *forum.Topic, post *forum.Post) bool {
	return topic != nil && post != nil && !topic.Deleted && !post.Deleted && post.Tid == topic.Tid
}
