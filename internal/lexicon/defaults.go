package lexicon

// Intent categories referenced by the classifier.
const (
	IntentCancel      = "cancel"
	IntentModify      = "modify"
	IntentContextual  = "contextual"
	IntentNewTask     = "new_task"
	IntentQueryStatus = "query_status"
	IntentBackchannel = "backchannel"
	IntentComment     = "comment"
	IntentPause       = "pause"
	IntentResume      = "resume"
	IntentClarify     = "clarify"
)

func defaultIntents() map[string]IntentEntry {
	return map[string]IntentEntry{
		IntentCancel: {
			Priority: 1,
			Keywords: []string{
				"取消", "停止", "算了", "不用了", "不要了", "别弄了",
				"不搞了", "不买了", "不弄了", "停下", "cancel", "stop", "never mind",
			},
		},
		IntentModify: {
			Priority: 2,
			Keywords: []string{
				"另外", "再加上", "补充", "顺便", "对了", "加一个",
				"还有件事", "还要", "以及", "记得", "also", "additionally", "by the way",
			},
		},
		IntentContextual: {
			Priority: 3,
			Keywords: []string{
				"预算", "控制在", "以内", "不超过", "左右", "大概", "差不多",
			},
		},
		IntentNewTask: {
			Priority: 4,
			Keywords: []string{
				"我想", "帮我", "给我", "查一下", "查查", "搜一下",
				"推荐", "分析", "对比", "规划", "help me", "i want",
			},
		},
		IntentQueryStatus: {
			Priority: 5,
			Keywords: []string{
				"好了吗", "好了么", "怎么样了", "还要多久", "多久", "进度",
				"太慢", "好慢", "这么慢", "还在吗", "有人吗", "在吗",
				"还有任务", "还有多少", "还有几个", "done yet",
			},
		},
		IntentBackchannel: {
			Priority: 6,
			Keywords: []string{
				"嗯", "哦", "噢", "好的", "好嘞", "明白", "知道了",
				"收到", "了解", "ok", "okay", "got it",
			},
		},
		IntentComment: {
			Priority: 7,
			Keywords: []string{
				"不错", "厉害", "真好", "挺好", "太好了", "可以啊",
				"给力", "棒", "nice", "great",
			},
		},
		IntentPause: {
			Priority: 8,
			Keywords: []string{"暂停", "先停一下", "等一下", "等等", "稍等", "pause"},
		},
		IntentResume: {
			Priority: 9,
			Keywords: []string{"继续", "接着来", "恢复", "resume"},
		},
		IntentClarify: {
			Priority: 10,
			Keywords: []string{
				"是的", "对", "不是", "第一个", "第二个", "都行",
				"随便", "市区", "郊区", "万", "块", "元",
			},
		},
	}
}

// defaultTopics is an ordered precedence list. Ride-hailing precedes
// car-buying: the generic "车" keyword lives on the car-buying entry, so any
// specific ride-hailing vocabulary must be tried first.
func defaultTopics() []TopicEntry {
	return []TopicEntry{
		{Name: "打车", Keywords: []string{"打车", "叫车", "滴滴", "高德", "专车", "出租车", "网约车"}},
		{Name: "选车", Keywords: []string{"买车", "选车", "汽车", "车型", "suv", "新能源", "车"}},
		{Name: "美食", Keywords: []string{"餐厅", "美食", "吃饭", "吃的", "外卖", "火锅"}},
		{Name: "家具", Keywords: []string{"家具", "沙发", "桌子", "床垫", "衣柜"}},
		{Name: "旅行", Keywords: []string{"旅游", "旅行", "机票", "酒店", "行程"}},
		{Name: "天气", Keywords: []string{"天气", "气温", "下雨", "温度"}},
	}
}

// defaultEmotions is ordered: complaint and negative outrank positive because
// their vocabularies overlap ("好慢" contains "好").
func defaultEmotions() []EmotionEntry {
	return []EmotionEntry{
		{Name: "complaint", Keywords: []string{"太慢", "好慢", "这么慢", "怎么这么", "等半天", "磨蹭"}},
		{Name: "negative", Keywords: []string{"算了", "不要了", "不搞了", "不买了", "烦", "无语"}},
		{Name: "positive", Keywords: []string{"谢谢", "太好了", "很好", "不错", "棒", "厉害"}},
	}
}

func defaultFilters() map[string][]string {
	return map[string][]string{
		"comment_phrases":     {"挺好的", "不错", "真不错", "厉害", "可以啊", "太好了"},
		"backchannel_phrases": {"嗯", "哦", "好的", "明白", "知道了", "收到"},
		"complaint_phrases":   {"有点慢", "太慢了", "好慢", "这么慢"},
		"status_query_phrases": {
			"好了吗", "好了么", "怎么样了", "还要多久", "还在吗", "有人吗",
		},
		"status_queries": {"进度", "状态"},
		"action_words":   {"吃饭", "买", "查", "看", "去", "订", "换"},
	}
}
