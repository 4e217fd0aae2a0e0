package coap

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/ironzhang/coapengine/message"
)

// Options 请求或响应的选项集合
//
// 同编号的多值选项按添加顺序保存, 取值规则与message.Message相同.
type Options []message.Option

func (options Options) clone() Options {
	if options == nil {
		return Options{}
	}
	m := message.Message{Options: options}
	return Options(m.Clone().Options)
}

func (options *Options) apply(f func(m *message.Message) error) error {
	m := message.Message{Options: *options}
	if err := f(&m); err != nil {
		return err
	}
	*options = m.Options
	return nil
}

// Add 添加选项, 单值选项重复添加时返回错误.
func (options *Options) Add(id OptionID, v interface{}) error {
	return options.apply(func(m *message.Message) error { return m.AddOption(id, v) })
}

// Set 替换选项.
func (options *Options) Set(id OptionID, v interface{}) error {
	return options.apply(func(m *message.Message) error { return m.SetOption(id, v) })
}

func (options *Options) Del(id OptionID) {
	options.apply(func(m *message.Message) error {
		m.DelOption(id)
		return nil
	})
}

func (options Options) Get(id OptionID) interface{} {
	m := message.Message{Options: options}
	return m.GetOption(id)
}

func (options Options) Contain(id OptionID) bool {
	m := message.Message{Options: options}
	return m.HasOption(id)
}

func (options Options) Strings(id OptionID) []string {
	m := message.Message{Options: options}
	return m.Strings(id)
}

func (options *Options) SetStrings(id OptionID, ss []string) error {
	return options.apply(func(m *message.Message) error {
		m.DelOption(id)
		for _, s := range ss {
			if err := m.AddOption(id, s); err != nil {
				return err
			}
		}
		return nil
	})
}

// SetPath 以"/"分隔的路径设置Uri-Path.
func (options *Options) SetPath(path string) error {
	return options.SetStrings(URIPath, splitNonEmpty(path, "/"))
}

func (options Options) GetPath() string {
	return strings.Join(options.Strings(URIPath), "/")
}

// SetQuery 以"&"分隔的查询串设置Uri-Query.
func (options *Options) SetQuery(query string) error {
	return options.SetStrings(URIQuery, splitNonEmpty(query, "&"))
}

func (options Options) GetQuery() string {
	return strings.Join(options.Strings(URIQuery), "&")
}

func splitNonEmpty(s, sep string) []string {
	var ss []string
	for _, x := range strings.Split(s, sep) {
		if x != "" {
			ss = append(ss, x)
		}
	}
	return ss
}

var headerNewlineToSpace = strings.NewReplacer("\n", " ", "\r", " ")

// Write 按编号顺序输出选项, 每行一个.
func (options Options) Write(w io.Writer) error {
	sorted := append(Options(nil), options...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ID < sorted[j].ID
	})
	for _, o := range sorted {
		var err error
		switch v := o.Value.(type) {
		case string:
			_, err = fmt.Fprintf(w, "%s: %s\r\n", o.ID, headerNewlineToSpace.Replace(v))
		case []byte:
			_, err = fmt.Fprintf(w, "%s: %x\r\n", o.ID, v)
		default:
			_, err = fmt.Fprintf(w, "%s: %v\r\n", o.ID, v)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
